package util

import (
	"encoding/json"
	"io"
	"os"

	"github.com/pkg/errors"
)

// WriteJSON writes data as indented JSON to the named file, replacing it.
func WriteJSON(fn string, data interface{}) error {
	f, err := os.Create(fn)
	if err != nil {
		return errors.WithStack(err)
	}
	defer f.Close()

	if err = EncodeJSON(f, data); err != nil {
		return errors.Wrapf(err, "problem writing '%s'", fn)
	}

	return errors.WithStack(f.Sync())
}

// EncodeJSON writes data as indented JSON followed by a newline.
func EncodeJSON(w io.Writer, data interface{}) error {
	out, err := json.MarshalIndent(data, "", "   ")
	if err != nil {
		return errors.Wrap(err, "problem encoding data")
	}

	if _, err = w.Write(append(out, '\n')); err != nil {
		return errors.WithStack(err)
	}

	return nil
}
