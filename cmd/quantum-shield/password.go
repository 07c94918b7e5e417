package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/pzverkov/quantum-shield/pkg/keystore"
)

var errPasswordMismatch = errors.New("passwords do not match")

// passwordFlags are shared by commands that seal or open key blobs.
type passwordFlags struct {
	fromStdin  bool
	noPassword bool
}

func (p *passwordFlags) register(cmd *cobra.Command) {
	p.registerStdin(cmd)
	cmd.Flags().BoolVar(&p.noPassword, "no-password", false, "store key material without password protection")
}

func (p *passwordFlags) registerStdin(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&p.fromStdin, "password-stdin", false, "read the key password from the first line of stdin")
}

// forSealing returns the password used to seal a new blob. Prompted
// passwords are entered twice; all passwords must pass the strength policy.
func (p *passwordFlags) forSealing(cmd *cobra.Command) ([]byte, error) {
	if p.noPassword {
		return nil, nil
	}
	pw, err := p.read(cmd, true)
	if err != nil {
		return nil, err
	}
	if err := keystore.ValidatePassword(string(pw)); err != nil {
		return nil, err
	}
	return pw, nil
}

// forOpening returns the password for an existing blob, or nil when the
// blob is not encrypted.
func (p *passwordFlags) forOpening(cmd *cobra.Command, blob *keystore.Blob) ([]byte, error) {
	if !blob.Encrypted {
		return nil, nil
	}
	return p.read(cmd, false)
}

func (p *passwordFlags) read(cmd *cobra.Command, confirm bool) ([]byte, error) {
	if p.fromStdin {
		return readPasswordLine(cmd.InOrStdin())
	}
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return nil, errors.New("interactive input required: use --password-stdin or --no-password")
	}

	pw, err := promptPassword(cmd.ErrOrStderr(), "Enter key password: ")
	if err != nil {
		return nil, err
	}
	if !confirm {
		return pw, nil
	}
	again, err := promptPassword(cmd.ErrOrStderr(), "Confirm key password: ")
	if err != nil {
		return nil, err
	}
	if string(pw) != string(again) {
		return nil, errPasswordMismatch
	}
	return pw, nil
}

func promptPassword(w io.Writer, prompt string) ([]byte, error) {
	_, _ = fmt.Fprint(w, prompt)
	pw, err := term.ReadPassword(int(os.Stdin.Fd()))
	_, _ = fmt.Fprintln(w)
	if err != nil {
		return nil, fmt.Errorf("password read failed: %w", err)
	}
	return pw, nil
}

func readPasswordLine(r io.Reader) ([]byte, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("password read failed: %w", err)
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return nil, errors.New("empty password on stdin")
	}
	return []byte(line), nil
}
