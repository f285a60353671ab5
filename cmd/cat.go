package cmd

import (
	"io"
	"os"
	"strings"

	"github.com/deploymenttheory/go-vdi-inspector/internal/common/cryptoutil"
	"github.com/deploymenttheory/go-vdi-inspector/internal/config"
	"github.com/deploymenttheory/go-vdi-inspector/internal/logger"
	"github.com/spf13/cobra"
)

var catCmd = &cobra.Command{
	Use:   "cat <inode>",
	Short: "Copy an inode's data out of the image",
	Long: `cat writes the bytes of an inode to stdout, or to --out together with an
extraction report on stdout. Holes read as zeros. --hash computes a digest
of the data while it is copied.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		n, err := parseInode(args[0])
		if err != nil {
			return err
		}

		out, _ := cmd.Flags().GetString("out")
		algorithm := config.Instance.Extract.Hash
		if cmd.Flags().Changed("hash") {
			algorithm, _ = cmd.Flags().GetString("hash")
		}

		s, err := openSession()
		if err != nil {
			return err
		}
		defer s.Close()

		var w io.Writer = cmd.OutOrStdout()
		if out != "" {
			f, err := os.Create(out)
			if err != nil {
				return err
			}
			defer f.Close()
			w = f
		}

		r, err := s.ExtractInode(n, w, cryptoutil.HashAlgorithm(algorithm))
		if err != nil {
			return err
		}

		if out == "" {
			// stdout carries the data
			logger.LogInfo("Extracted inode", map[string]interface{}{
				"inode":     r.Inode,
				"bytes":     r.Bytes,
				"algorithm": r.Algorithm,
				"digest":    r.Digest,
			})
			return nil
		}
		r.Output = out
		return writeReport(cmd, r)
	},
}

func init() {
	catCmd.Flags().StringP("out", "o", "", "Write the data to this file instead of stdout")
	catCmd.Flags().String("hash", "", "Digest algorithm ("+strings.Join(cryptoutil.Algorithms(), ", ")+"), empty for none; default from extract.hash")
}
