package cli

import (
	"bytes"
	"context"
	"errors"
	"testing"

	flag "github.com/spf13/pflag"
	"github.com/stretchr/testify/require"
)

func TestCommandRunSuccess(t *testing.T) {
	var ranWith []string

	cmd := &Command{
		Flags: flag.NewFlagSet("echo", flag.ContinueOnError),
		Usage: "echo <word>",
		Short: "Echo a word",
		Exec: func(_ context.Context, o *IO, args []string) error {
			ranWith = args
			o.Println("ok")

			return nil
		},
	}

	var out, errOut bytes.Buffer
	code := cmd.Run(context.Background(), NewIO(&out, &errOut), []string{"hello"})

	require.Equal(t, 0, code)
	require.Equal(t, []string{"hello"}, ranWith)
	require.Contains(t, out.String(), "ok")
	require.Empty(t, errOut.String())
}

func TestCommandRunExecError(t *testing.T) {
	cmd := &Command{
		Flags: flag.NewFlagSet("fail", flag.ContinueOnError),
		Usage: "fail",
		Exec: func(_ context.Context, _ *IO, _ []string) error {
			return errors.New("boom")
		},
	}

	var out, errOut bytes.Buffer
	code := cmd.Run(context.Background(), NewIO(&out, &errOut), nil)

	require.Equal(t, 1, code)
	require.Contains(t, errOut.String(), "boom")
}

func TestCommandRunHelpFlag(t *testing.T) {
	fs := flag.NewFlagSet("read", flag.ContinueOnError)
	fs.String("version", "", "version bound")

	cmd := &Command{
		Flags: fs,
		Usage: "read <path>",
		Short: "Read an object",
		Exec: func(_ context.Context, _ *IO, _ []string) error {
			t.Fatal("Exec should not run for --help")
			return nil
		},
	}

	var out, errOut bytes.Buffer
	code := cmd.Run(context.Background(), NewIO(&out, &errOut), []string{"--help"})

	require.Equal(t, 0, code)
	require.Contains(t, out.String(), "Usage: "+ProgName+" read <path>")
	require.Contains(t, out.String(), "Flags:")
}

func TestCommandName(t *testing.T) {
	cmd := &Command{Usage: "ls [-R] <scope>"}
	require.Equal(t, "ls", cmd.Name())
}

func TestCommandHelpLine(t *testing.T) {
	cmd := &Command{Usage: "ls <scope>", Short: "List keys"}
	require.Contains(t, cmd.HelpLine(), "ls <scope>")
	require.Contains(t, cmd.HelpLine(), "List keys")
}
