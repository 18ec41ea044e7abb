package env

import (
	"os"

	"github.com/3-lines-studio/kiln/internal/core"
)

func DetectMode() core.Mode {
	if os.Getenv("KILN_DEV") == "1" {
		return core.ModeDev
	}
	return core.ModeProd
}
