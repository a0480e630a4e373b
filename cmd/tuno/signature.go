package main

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/TunoMedia/TunoMedia/internal/chunker"
)

var (
	signatureFile      string
	signatureOutput    string
	signaturePretty    bool
	signatureBlockSize int
	signatureAlgo      string
)

// signatureReport is the JSON form of a file signature.
type signatureReport struct {
	File       string   `json:"file"`
	Size       int64    `json:"size"`
	Algo       string   `json:"hash_algo"`
	BlockSize  int      `json:"block_size"`
	Chunks     int      `json:"chunks"`
	MerkleRoot string   `json:"merkle_root"`
	Digests    []string `json:"digests"`
}

var signatureCmd = &cobra.Command{
	Use:   "signature",
	Short: "Compute the content signature of a file",
	Long: `Compute the per-block digests of a file, as recorded on the ledger when a song
is published.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := cfg.ChunkOptions()
		if signatureBlockSize > 0 {
			opts.BlockSize = signatureBlockSize
		}
		if signatureAlgo != "" {
			algo, err := chunker.ParseHashAlgo(signatureAlgo)
			if err != nil {
				return err
			}
			opts.Algo = algo
		}

		report, err := buildSignatureReport(signatureFile, opts)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "File size: %d bytes\n", report.Size)
		fmt.Fprintf(os.Stderr, "Block size: %d bytes\n", report.BlockSize)
		fmt.Fprintf(os.Stderr, "Chunks: %d\n\n", report.Chunks)

		var data []byte
		if signaturePretty {
			data, err = json.MarshalIndent(report, "", "  ")
		} else {
			data, err = json.Marshal(report)
		}
		if err != nil {
			return fmt.Errorf("failed to serialize signature: %w", err)
		}

		if signatureOutput == "" {
			fmt.Println(string(data))
			return nil
		}
		if err := os.WriteFile(signatureOutput, data, 0644); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "Signature written to: %s\n", signatureOutput)
		return nil
	},
}

func buildSignatureReport(path string, opts chunker.Options) (*signatureReport, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	sig, err := chunker.BuildFile(path, opts)
	if err != nil {
		return nil, err
	}
	digests := make([]string, sig.Len())
	for i, d := range sig.Digests {
		digests[i] = hex.EncodeToString(d)
	}
	return &signatureReport{
		File:       path,
		Size:       info.Size(),
		Algo:       string(sig.Algo),
		BlockSize:  sig.BlockSize,
		Chunks:     sig.Len(),
		MerkleRoot: hex.EncodeToString(sig.MerkleRoot()),
		Digests:    digests,
	}, nil
}

func init() {
	rootCmd.AddCommand(signatureCmd)
	signatureCmd.Flags().StringVarP(&signatureFile, "file", "f", "", "Path to the media file")
	signatureCmd.Flags().StringVarP(&signatureOutput, "output", "o", "", "Write the signature to a file (default: stdout)")
	signatureCmd.Flags().BoolVar(&signaturePretty, "pretty", true, "Pretty-print JSON output")
	signatureCmd.Flags().IntVar(&signatureBlockSize, "block-size", 0, "Block size in bytes (default: storage.block_size)")
	signatureCmd.Flags().StringVar(&signatureAlgo, "algo", "", "Digest algorithm: SHA256 or BLAKE3 (default: storage.hash_algo)")
	signatureCmd.MarkFlagRequired("file")
}
