// quorsig-keygen splits a fresh master secret into n key shares with a
// trusted dealer running in this process. Committees that must never
// concentrate the secret anywhere run the networked ceremony instead
// (quorsig-node -generate with a committee config); this tool covers dev
// setups, tests and deployments that accept a dealer.
package main

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/quorsig/quorsig/internal/tsig/curve"
	"github.com/quorsig/quorsig/internal/tsig/dkg"
)

type publicConfig struct {
	Curve            curve.ID `json:"curve"`
	MasterPublic     []byte   `json:"master_public"`
	GroupCommitments [][]byte `json:"group_commitments"`
	Threshold        uint32   `json:"threshold"`
	N                uint32   `json:"n"`
}

func main() {
	var (
		curveName string
		n, t      uint
		out       string
	)
	flag.StringVar(&curveName, "curve", string(curve.Secp256k1), "Curve (secp256k1, p256, ed25519, bls12-381 with -tags blst)")
	flag.UintVar(&n, "n", 4, "Total participants")
	flag.UintVar(&t, "t", 3, "Threshold (t-of-n)")
	flag.StringVar(&out, "out", "quorsig-keys", "Output directory")
	flag.Parse()

	if n == 0 || t == 0 || t > n {
		fmt.Fprintln(os.Stderr, "invalid n/t")
		os.Exit(2)
	}
	ad, err := curve.ByID(curve.ID(curveName))
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(2)
	}
	if err := os.MkdirAll(out, 0o755); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}

	sim, err := dkg.Simulate(ad, uint32(n), uint32(t), rand.Reader)
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}

	qual := make([]uint32, 0, n)
	coms := make([][]byte, 0, len(sim.GroupCommitments))
	for i := uint32(1); i <= uint32(n); i++ {
		qual = append(qual, i)
	}
	for _, p := range sim.GroupCommitments {
		coms = append(coms, p)
	}

	var g errgroup.Group
	now := time.Now().Unix()
	for i := uint32(1); i <= uint32(n); i++ {
		i := i
		g.Go(func() error {
			dir := filepath.Join(out, fmt.Sprintf("node%d", i))
			if err := os.MkdirAll(dir, 0o700); err != nil {
				return err
			}
			ks := dkg.NewKeyStoreFromEnv(filepath.Join(dir, "tsig_keyshare.dat"))
			return ks.SaveKeyShare(context.Background(), dkg.KeyShareRecord{
				Curve:            ad.ID(),
				Index:            i,
				Threshold:        uint32(t),
				Participants:     uint32(n),
				Epoch:            1,
				Secret:           sim.Shares[i],
				MasterPublic:     sim.MasterPublic,
				GroupCommitments: coms,
				Qualified:        qual,
				CreatedAt:        now,
			})
		})
	}
	if err := g.Wait(); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}

	pub := publicConfig{
		Curve:            ad.ID(),
		MasterPublic:     sim.MasterPublic,
		GroupCommitments: coms,
		Threshold:        uint32(t),
		N:                uint32(n),
	}
	f, err := os.Create(filepath.Join(out, "quorsig-public.json"))
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(pub); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
	_ = f.Close()
	fmt.Printf("wrote %d key shares and quorsig-public.json to %s\n", n, out)
}
