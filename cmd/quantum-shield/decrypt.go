package main

import (
	"errors"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/pzverkov/quantum-shield/pkg/crypto"
	"github.com/pzverkov/quantum-shield/pkg/keystore"
	"github.com/pzverkov/quantum-shield/pkg/shield"
)

var (
	decryptKeyPath  string
	decryptStoreID  string
	decryptPassword passwordFlags
)

func init() {
	decryptCmd.Flags().StringVarP(&decryptKeyPath, "key", "k", "", "read the key blob from this file")
	decryptCmd.Flags().StringVar(&decryptStoreID, "id", "", "read the key blob from the key store")
	decryptCmd.Flags().String("store-dir", "", "key store directory")
	decryptCmd.Flags().String("store-backend", "", "key store backend: badger or file")
	decryptCmd.MarkFlagsMutuallyExclusive("key", "id")
	decryptPassword.registerStdin(decryptCmd)
}

func resetDecryptCommandState() {
	decryptKeyPath = ""
	decryptStoreID = ""
	decryptPassword = passwordFlags{}
}

var decryptCmd = &cobra.Command{
	Use:   "decrypt INPUT OUTPUT",
	Short: "Decrypt an image with its key blob",
	Long: `Verifies the key blob, opens it (prompting for the password when the blob is
encrypted) and writes the recovered image to OUTPUT as PNG.

INPUT is read in the pixel mode recorded in the key blob.`,
	Args: cobra.ExactArgs(2),
	RunE: runDecrypt,
}

func runDecrypt(cmd *cobra.Command, args []string) error {
	in, out := args[0], args[1]
	ctx := cmd.Context()

	blob, source, err := loadBlob(cmd, decryptKeyPath, decryptStoreID)
	if err != nil {
		return err
	}
	if err := keystore.Verify(blob); err != nil {
		_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "%s %s failed its integrity check\n", color.RedString("✗"), source)
		return err
	}

	password, err := decryptPassword.forOpening(cmd, blob)
	if err != nil {
		return err
	}
	defer crypto.Zeroize(password)

	img, err := readImageAs(in, blob.Mode)
	if err != nil {
		return err
	}

	obs := newObserver()
	s, err := shield.New(shield.WithMaxQubits(cfg.MaxQubits), shield.WithObserver(obs))
	if err != nil {
		return err
	}

	w := keystore.NewWrapper(password,
		keystore.WithIterations(cfg.KDFIterations),
		keystore.WithObserver(obs),
	)
	defer w.Close()
	dec, err := s.DecryptWithBlob(ctx, img, blob, w)
	if err != nil {
		return err
	}
	if err := writeImage(out, dec); err != nil {
		return err
	}

	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s Decrypted %s with %s\n", color.GreenString("✓"), in, source)
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "  %s %s\n", color.CyanString("→"), out)
	return nil
}

// loadBlob reads a key blob from a file or the key store and names where
// it came from.
func loadBlob(cmd *cobra.Command, path, id string) (*keystore.Blob, string, error) {
	switch {
	case path != "":
		b, err := keystore.ReadFile(path)
		return b, path, err
	case id != "":
		var b *keystore.Blob
		_, err := withStore(func(st keystore.Store) (string, error) {
			var err error
			b, err = st.Get(cmd.Context(), id)
			return id, err
		})
		return b, "store:" + id, err
	default:
		return nil, "", errors.New("no key given: use --key FILE or --id ID")
	}
}
