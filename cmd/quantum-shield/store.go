package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/pzverkov/quantum-shield/pkg/keystore"
)

var storePutID string

func init() {
	storeCmd.PersistentFlags().String("store-dir", "", "key store directory")
	storeCmd.PersistentFlags().String("store-backend", "", "key store backend: badger or file")
	storePutCmd.Flags().StringVar(&storePutID, "id", "", "id to store under (default: random UUID)")

	storeCmd.AddCommand(storePutCmd)
	storeCmd.AddCommand(storeGetCmd)
	storeCmd.AddCommand(storeListCmd)
	storeCmd.AddCommand(storeDeleteCmd)
}

func resetStoreCommandState() {
	storePutID = ""
}

// openStore opens the key store selected by store_backend.
func openStore() (keystore.Store, error) {
	opt := keystore.WithStoreObserver(newObserver())
	if cfg.StoreBackend == "file" {
		return keystore.NewFileStore(cfg.StoreDir, opt)
	}
	return keystore.OpenBadgerStore(cfg.StoreDir, opt)
}

// withStore opens the configured key store for the duration of fn.
func withStore(fn func(keystore.Store) (string, error)) (_ string, err error) {
	st, err := openStore()
	if err != nil {
		return "", err
	}
	defer func() {
		if cerr := st.Close(); err == nil {
			err = cerr
		}
	}()
	return fn(st)
}

var storeCmd = &cobra.Command{
	Use:   "store",
	Short: "Manage key blobs in the local key store",
	Long: `The key store keeps sealed key blobs under store_dir (see --store-dir),
either in an embedded badger database (the default) or as one file per blob
with --store-backend file. Blobs are stored as sealed, so password-protected
blobs stay protected at rest.`,
}

var storePutCmd = &cobra.Command{
	Use:   "put FILE",
	Short: "Import a key blob file into the store",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		blob, err := keystore.ReadFile(args[0])
		if err != nil {
			return err
		}
		if err := keystore.Verify(blob); err != nil {
			return err
		}
		id, err := withStore(func(st keystore.Store) (string, error) {
			return st.Put(cmd.Context(), storePutID, blob)
		})
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s Stored %s as %s\n", color.GreenString("✓"), args[0], id)
		return nil
	},
}

var storeGetCmd = &cobra.Command{
	Use:   "get ID FILE",
	Short: "Export a key blob from the store to a file",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, path := args[0], args[1]
		_, err := withStore(func(st keystore.Store) (string, error) {
			blob, err := st.Get(cmd.Context(), id)
			if err != nil {
				return "", err
			}
			return id, keystore.WriteFile(path, blob)
		})
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s Wrote %s to %s\n", color.GreenString("✓"), id, path)
		return nil
	},
}

var storeListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored key ids",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		var ids []string
		_, err := withStore(func(st keystore.Store) (string, error) {
			var err error
			ids, err = st.List(cmd.Context())
			return "", err
		})
		if err != nil {
			return err
		}
		if len(ids) == 0 {
			_, _ = fmt.Fprintln(cmd.ErrOrStderr(), color.YellowString("No keys stored"))
			return nil
		}
		for _, id := range ids {
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), id)
		}
		return nil
	},
}

var storeDeleteCmd = &cobra.Command{
	Use:   "delete ID",
	Short: "Remove a key blob from the store",
	Long:  `Removes a key blob. Images encrypted with it can no longer be decrypted unless another copy of the blob exists.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, err := withStore(func(st keystore.Store) (string, error) {
			return args[0], st.Delete(cmd.Context(), args[0])
		})
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s Deleted %s\n", color.GreenString("✓"), args[0])
		return nil
	},
}
