package commands

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"

	"github.com/spf13/cobra"
)

// jsonOutput writes obj to the command output using the --json-indent indentation.
func jsonOutput(cmd *cobra.Command, obj any) {
	ctx := cmd.Context()
	indent, err := cmd.Flags().GetString("json-indent")
	assertNoError(ctx, err)

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", indent)
	assertNoError(ctx, enc.Encode(obj))

	_, err = cmd.OutOrStdout().Write(buf.Bytes())
	assertNoError(ctx, err)
}

// jsonArg decodes a single JSON value passed as a command argument.
func jsonArg[T any](cmd *cobra.Command, arg string) T {
	ctx := cmd.Context()
	dec := json.NewDecoder(strings.NewReader(arg))
	var result T
	assertNoError(ctx, dec.Decode(&result))
	if dec.More() {
		assertNoError(ctx, errors.New("unexpected data after the JSON value"))
	}
	return result
}
