// Generates per-node committee configs for docker-compose / e2e setups:
// fresh ed25519 signing and X25519 encryption keypairs for every committee
// member, one JSON file per node.
//
//	go run .github/scripts/gen-committee-config.go --out-dir e2e/configs -n 4 -threshold 3
package main

import (
	"crypto/ecdh"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/quorsig/quorsig/internal/tsig/curve"
	"github.com/quorsig/quorsig/internal/tsig/dkg"
)

func main() {
	var (
		outDir     string
		sessionID  string
		epoch      uint64
		curveName  string
		n          uint
		threshold  uint
		keyShare   string
		sessionDir string
	)
	flag.StringVar(&outDir, "out-dir", "", "Output directory for per-node JSON configs")
	flag.StringVar(&sessionID, "session-id", "quorsig-dkg", "Ceremony session id")
	flag.Uint64Var(&epoch, "epoch", 1, "Ceremony epoch (monotonic)")
	flag.StringVar(&curveName, "curve", string(curve.Secp256k1), "Signature curve")
	flag.UintVar(&n, "n", 4, "Committee size")
	flag.UintVar(&threshold, "threshold", 3, "Threshold t (<= n)")
	flag.StringVar(&keyShare, "keyshare-path", "/data/tsig_keyshare.dat", "KeyShare path inside container")
	flag.StringVar(&sessionDir, "session-dir", "/data/quorsig_dkg", "Session dir inside container")
	flag.Parse()

	if outDir == "" {
		fmt.Fprintln(os.Stderr, "missing --out-dir")
		os.Exit(2)
	}
	if n == 0 || threshold == 0 || threshold > n {
		fmt.Fprintln(os.Stderr, "invalid n/threshold")
		os.Exit(2)
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		fmt.Fprintln(os.Stderr, "mkdir:", err)
		os.Exit(1)
	}

	type nodeKeys struct {
		sigPriv []byte
		encPriv []byte
	}
	keys := make(map[uint32]nodeKeys, n)
	committee := make([]dkg.Member, 0, n)
	for i := uint32(1); i <= uint32(n); i++ {
		sigPub, sigPriv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			fmt.Fprintln(os.Stderr, "ed25519:", err)
			os.Exit(1)
		}
		encPriv, err := ecdh.X25519().GenerateKey(rand.Reader)
		if err != nil {
			fmt.Fprintln(os.Stderr, "x25519:", err)
			os.Exit(1)
		}
		keys[i] = nodeKeys{
			sigPriv: append([]byte(nil), sigPriv...),
			encPriv: append([]byte(nil), encPriv.Bytes()...),
		}
		committee = append(committee, dkg.Member{
			Index:  i,
			SigPub: append([]byte(nil), sigPub...),
			EncPub: append([]byte(nil), encPriv.PublicKey().Bytes()...),
		})
	}

	for i := uint32(1); i <= uint32(n); i++ {
		cfg := dkg.CommitteeConfig{
			SessionID:    sessionID,
			Epoch:        epoch,
			Curve:        curve.ID(curveName),
			N:            uint32(n),
			Threshold:    uint32(threshold),
			Index:        i,
			KeySharePath: keyShare,
			SessionDir:   sessionDir,
			SigPriv:      keys[i].sigPriv,
			EncPriv:      keys[i].encPriv,
			Committee:    committee,
		}
		if err := cfg.Validate(); err != nil {
			fmt.Fprintln(os.Stderr, "config validate:", err)
			os.Exit(1)
		}
		b, err := json.MarshalIndent(cfg, "", "  ")
		if err != nil {
			fmt.Fprintln(os.Stderr, "marshal:", err)
			os.Exit(1)
		}
		path := filepath.Join(outDir, fmt.Sprintf("node%d.json", i))
		if err := os.WriteFile(path, b, 0o600); err != nil {
			fmt.Fprintln(os.Stderr, "write:", err)
			os.Exit(1)
		}
	}
}
