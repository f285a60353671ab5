package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

func parseInode(arg string) (uint32, error) {
	n, err := strconv.ParseUint(arg, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid inode number %q: %w", arg, err)
	}
	return uint32(n), nil
}

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Report image, partition, superblock and group descriptor state",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession()
		if err != nil {
			return err
		}
		defer s.Close()

		return writeReport(cmd, s.Info())
	},
}

var statCmd = &cobra.Command{
	Use:   "stat <inode>",
	Short: "Report an inode record and whether its bitmap bit is set",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		n, err := parseInode(args[0])
		if err != nil {
			return err
		}

		s, err := openSession()
		if err != nil {
			return err
		}
		defer s.Close()

		r, err := s.Stat(n)
		if err != nil {
			return err
		}
		return writeReport(cmd, r)
	},
}

var blocksCmd = &cobra.Command{
	Use:   "blocks <inode>",
	Short: "Map each file block of an inode to its filesystem block",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		n, err := parseInode(args[0])
		if err != nil {
			return err
		}

		s, err := openSession()
		if err != nil {
			return err
		}
		defer s.Close()

		r, err := s.BlockMap(n)
		if err != nil {
			return err
		}
		return writeReport(cmd, r)
	},
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Compare superblock, group descriptor and bitmap free counters",
	Long: `check recounts every block and inode bitmap and compares the result with
the group descriptors and the superblock. Mismatches are reported and the
command exits non-zero. Nothing is repaired.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession()
		if err != nil {
			return err
		}
		defer s.Close()

		r, checkErr := s.Check()
		if err := writeReport(cmd, r); err != nil {
			return err
		}
		return checkErr
	},
}
