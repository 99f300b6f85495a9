// Command keygen generates a secp256k1 agent key and prints the material
// needed to register and run an agent.
package main

import (
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/ethereum/go-ethereum/crypto"
)

type agentKey struct {
	Address    string `json:"address"`
	PublicKey  string `json:"public_key"`
	PrivateKey string `json:"private_key"`
}

func main() {
	var (
		outputPath = flag.String("output", "", "write the key JSON to this file instead of stdout")
		envFormat  = flag.Bool("env", false, "print as A2A_PRIVATE_KEY=... for .env files")
	)
	flag.Parse()

	privateKey, err := crypto.GenerateKey()
	if err != nil {
		log.Fatalf("Failed to generate key: %v", err)
	}

	key := agentKey{
		Address:    crypto.PubkeyToAddress(privateKey.PublicKey).Hex(),
		PublicKey:  hex.EncodeToString(crypto.FromECDSAPub(&privateKey.PublicKey)),
		PrivateKey: hex.EncodeToString(crypto.FromECDSA(privateKey)),
	}

	if *envFormat {
		fmt.Printf("A2A_PRIVATE_KEY=%s\n", key.PrivateKey)
		fmt.Printf("# address: %s\n", key.Address)
		return
	}

	data, err := json.MarshalIndent(key, "", "  ")
	if err != nil {
		log.Fatalf("Failed to encode key: %v", err)
	}

	if *outputPath == "" {
		fmt.Println(string(data))
		return
	}
	if err := os.MkdirAll(filepath.Dir(*outputPath), 0o700); err != nil {
		log.Fatalf("Failed to create output directory: %v", err)
	}
	if err := os.WriteFile(*outputPath, data, 0o600); err != nil {
		log.Fatalf("Failed to write key file: %v", err)
	}
	fmt.Printf("Key for %s written to %s\n", key.Address, *outputPath)
}
