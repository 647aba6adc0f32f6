// Command keyenc encrypts a settlement wallet key into the file format read
// by wallet.encrypted_key_path.
//
// The key and password are taken from PHANTOMBET_WALLET_PRIVATE_KEY and
// PHANTOMBET_WALLET_KEY_PASSWORD so neither ends up in shell history.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/joho/godotenv"

	"github.com/intelliDean/PhantomBet/internal/crypto"
)

func main() {
	out := flag.String("out", "data/settler.key", "output path for the encrypted key file")
	force := flag.Bool("force", false, "overwrite an existing key file")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	_ = godotenv.Load()
	key := os.Getenv("PHANTOMBET_WALLET_PRIVATE_KEY")
	password := os.Getenv("PHANTOMBET_WALLET_KEY_PASSWORD")
	if key == "" || password == "" {
		logger.Error("PHANTOMBET_WALLET_PRIVATE_KEY and PHANTOMBET_WALLET_KEY_PASSWORD must be set")
		os.Exit(2)
	}

	if _, err := os.Stat(*out); err == nil && !*force {
		logger.Error("key file exists; pass -force to overwrite", slog.String("path", *out))
		os.Exit(1)
	}

	data, err := crypto.EncryptKey(key, password)
	if err != nil {
		logger.Error("encrypt failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Decrypt again before writing so a bad file never replaces a good one.
	hexKey, err := crypto.DecryptKey(data, password)
	if err != nil {
		logger.Error("verify failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	pk, err := ethcrypto.HexToECDSA(hexKey)
	if err != nil {
		logger.Error("invalid private key", slog.String("error", err.Error()))
		os.Exit(1)
	}

	if err := os.MkdirAll(filepath.Dir(*out), 0o700); err != nil {
		logger.Error("create output dir", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if err := os.WriteFile(*out, data, 0o600); err != nil {
		logger.Error("write key file", slog.String("error", err.Error()))
		os.Exit(1)
	}

	fmt.Printf("wrote %s for settler %s\n", *out, ethcrypto.PubkeyToAddress(pk.PublicKey).Hex())
}
