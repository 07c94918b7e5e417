package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/pzverkov/quantum-shield/pkg/crypto"
	"github.com/pzverkov/quantum-shield/pkg/imageio"
	"github.com/pzverkov/quantum-shield/pkg/keygen"
	"github.com/pzverkov/quantum-shield/pkg/keystore"
	"github.com/pzverkov/quantum-shield/pkg/pixel"
	"github.com/pzverkov/quantum-shield/pkg/shield"
)

var (
	encryptKeyPath  string
	encryptToStore  bool
	encryptStoreID  string
	encryptSeed     string
	encryptPassword passwordFlags
)

func init() {
	encryptCmd.Flags().StringVarP(&encryptKeyPath, "key", "k", "", "write the key blob to this file")
	encryptCmd.Flags().BoolVar(&encryptToStore, "store", false, "save the key blob in the key store")
	encryptCmd.Flags().StringVar(&encryptStoreID, "id", "", "key store id (default: random UUID)")
	encryptCmd.Flags().StringVar(&encryptSeed, "seed", "", "seed the randomness source (reproducible, testing only)")
	encryptCmd.Flags().String("purity", "", "permutation strategy: maximum, balanced, fast")
	encryptCmd.Flags().Int("qubits", 0, "qubits per circuit round")
	encryptCmd.Flags().Int("iterations", 0, "PBKDF2 iterations for the key password")
	encryptCmd.Flags().String("store-dir", "", "key store directory")
	encryptCmd.Flags().String("store-backend", "", "key store backend: badger or file")
	encryptPassword.register(encryptCmd)
}

func resetEncryptCommandState() {
	encryptKeyPath = ""
	encryptToStore = false
	encryptStoreID = ""
	encryptSeed = ""
	encryptPassword = passwordFlags{}
}

var encryptCmd = &cobra.Command{
	Use:   "encrypt INPUT OUTPUT",
	Short: "Encrypt an image and seal its key",
	Long: `Encrypts INPUT (PNG, JPEG or GIF) and writes the scrambled image to OUTPUT
as PNG. The key blob is written to --key, saved in the key store with
--store, or both. OUTPUT must stay lossless: re-encoding it as JPEG destroys
the ciphertext.

The key blob is password-protected unless --no-password is given.`,
	Args: cobra.ExactArgs(2),
	RunE: runEncrypt,
}

func runEncrypt(cmd *cobra.Command, args []string) error {
	in, out := args[0], args[1]
	if encryptKeyPath == "" && !encryptToStore {
		return errors.New("nowhere to put the key: use --key FILE and/or --store")
	}

	purity, err := keygen.ParsePurity(cfg.Purity)
	if err != nil {
		return err
	}
	password, err := encryptPassword.forSealing(cmd)
	if err != nil {
		return err
	}
	defer crypto.Zeroize(password)

	img, format, err := readImage(in)
	if err != nil {
		return err
	}

	obs := newObserver()
	opts := []shield.Option{
		shield.WithPurity(purity),
		shield.WithMaxQubits(cfg.MaxQubits),
		shield.WithObserver(obs),
	}
	if encryptSeed != "" {
		opts = append(opts, shield.WithSeed([]byte(encryptSeed)))
	}
	s, err := shield.New(opts...)
	if err != nil {
		return err
	}
	defer s.Forget()

	ctx := cmd.Context()
	enc, err := s.Encrypt(ctx, img)
	if err != nil {
		return err
	}

	w := keystore.NewWrapper(password,
		keystore.WithIterations(cfg.KDFIterations),
		keystore.WithObserver(obs),
	)
	defer w.Close()
	blob, err := s.ExportKeys(ctx, w)
	if err != nil {
		return err
	}

	// The ciphertext only appears at OUTPUT once its key is persisted.
	staged, err := stageImage(out, enc)
	if err != nil {
		return err
	}
	defer staged.discard()

	var notes []string
	if encryptKeyPath != "" {
		if err := keystore.WriteFile(encryptKeyPath, blob); err != nil {
			return err
		}
		notes = append(notes, "key written to "+encryptKeyPath)
	}
	if encryptToStore {
		id, err := withStore(func(st keystore.Store) (string, error) {
			return st.Put(ctx, encryptStoreID, blob)
		})
		if err != nil {
			return err
		}
		notes = append(notes, "key stored as "+id)
	}
	if err := staged.commit(); err != nil {
		return err
	}

	stdout := cmd.OutOrStdout()
	_, _ = fmt.Fprintf(stdout, "%s Encrypted %s (%s, %s %s, %s purity, %s backend)\n",
		color.GreenString("✓"), in, format, enc.Shape, enc.Mode, purity, s.SourceMode())
	_, _ = fmt.Fprintf(stdout, "  %s %s\n", color.CyanString("→"), out)
	for _, note := range notes {
		_, _ = fmt.Fprintf(stdout, "  %s %s\n", color.CyanString("→"), note)
	}

	if !blob.Encrypted {
		_, _ = fmt.Fprintf(stdout, "%s key material is stored without a password\n", color.YellowString("⚠"))
	}
	if encryptSeed != "" {
		_, _ = fmt.Fprintf(stdout, "%s seeded keys are reproducible by anyone who knows the seed\n", color.YellowString("⚠"))
	}
	return nil
}

func readImage(path string) (*pixel.Buffer, string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, "", err
	}
	defer func() { _ = f.Close() }()
	return imageio.Decode(f)
}

func readImageAs(path string, mode pixel.Mode) (*pixel.Buffer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	return imageio.DecodeAs(f, mode)
}

// writeImage writes b as PNG, atomically replacing path.
func writeImage(path string, b *pixel.Buffer) error {
	staged, err := stageImage(path, b)
	if err != nil {
		return err
	}
	defer staged.discard()
	return staged.commit()
}

// stagedImage is a PNG written next to its destination but not yet moved
// into place.
type stagedImage struct {
	tmp, path string
	done      bool
}

func stageImage(path string, b *pixel.Buffer) (*stagedImage, error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-"+filepath.Base(path)+"-*")
	if err != nil {
		return nil, err
	}
	s := &stagedImage{tmp: tmp.Name(), path: path}

	werr := imageio.EncodePNG(tmp, b)
	if werr == nil {
		werr = tmp.Sync()
	}
	if cerr := tmp.Close(); werr == nil {
		werr = cerr
	}
	if werr == nil {
		werr = os.Chmod(s.tmp, 0o644)
	}
	if werr != nil {
		s.discard()
		return nil, werr
	}
	return s, nil
}

func (s *stagedImage) commit() error {
	if err := os.Rename(s.tmp, s.path); err != nil {
		return err
	}
	s.done = true
	return nil
}

// discard removes the temporary file unless it was committed.
func (s *stagedImage) discard() {
	if !s.done {
		_ = os.Remove(s.tmp)
		s.done = true
	}
}
