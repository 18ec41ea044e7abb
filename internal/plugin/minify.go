package plugin

import (
	"errors"
	"fmt"
	"strings"

	"github.com/evanw/esbuild/pkg/api"
)

func minifyCSS(src []byte) ([]byte, error) {
	return minify(src, api.LoaderCSS)
}

func minifyJS(src []byte) ([]byte, error) {
	return minify(src, api.LoaderJS)
}

func minify(src []byte, loader api.Loader) ([]byte, error) {
	result := api.Transform(string(src), api.TransformOptions{
		Loader:            loader,
		MinifyWhitespace:  true,
		MinifySyntax:      true,
		MinifyIdentifiers: loader == api.LoaderJS,
		LegalComments:     api.LegalCommentsEndOfFile,
		Target:            api.ES2020,
	})
	if len(result.Errors) > 0 {
		return nil, messagesError(result.Errors)
	}
	return result.Code, nil
}

func messagesError(msgs []api.Message) error {
	errs := make([]error, 0, len(msgs))
	for _, msg := range msgs {
		if msg.Location != nil {
			errs = append(errs, fmt.Errorf("%d:%d: %s", msg.Location.Line, msg.Location.Column, strings.TrimSpace(msg.Text)))
			continue
		}
		errs = append(errs, errors.New(msg.Text))
	}
	return errors.Join(errs...)
}
