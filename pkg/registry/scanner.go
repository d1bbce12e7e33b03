// Copyright 2025 KrakLabs
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// For commercial licensing, contact: licensing@kraklabs.com
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package registry

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	"github.com/kraklabs/solcorpus/internal/retry"
)

// AccountFetcher is the read-only RPC surface the scanner consumes.
// *rpc.Client satisfies it.
type AccountFetcher interface {
	GetProgramAccountsWithOpts(ctx context.Context, publicKey solana.PublicKey, opts *rpc.GetProgramAccountsOpts) (rpc.GetProgramAccountsResult, error)
}

// Scanner queries the verification registry for uploads by one signer.
type Scanner struct {
	client   AccountFetcher
	program  solana.PublicKey
	signer   solana.PublicKey
	logger   *slog.Logger
	retryCfg retry.Config
}

// ScanResult carries the deduplicated records plus per-account skip counts.
type ScanResult struct {
	Records       []ProgramRecord
	AccountsSeen  int
	DecodeSkipped int
}

// Config configures a Scanner.
type Config struct {
	// Endpoint is the RPC endpoint URL. Required unless Client is set.
	Endpoint string

	// Client overrides the RPC client (tests inject a fake here).
	Client AccountFetcher

	// RegistryProgram is the base58 registry program id.
	// Defaults to DefaultRegistryProgram.
	RegistryProgram string

	// Signer is the base58 public key whose uploads are scanned. Required.
	Signer string

	Retry retry.Config
}

// NewScanner validates the configuration and builds a Scanner.
func NewScanner(cfg Config, logger *slog.Logger) (*Scanner, error) {
	if logger == nil {
		logger = slog.Default()
	}

	signer, err := solana.PublicKeyFromBase58(cfg.Signer)
	if err != nil {
		return nil, fmt.Errorf("invalid signer public key %q: %w", cfg.Signer, err)
	}

	programStr := cfg.RegistryProgram
	if programStr == "" {
		programStr = DefaultRegistryProgram
	}
	program, err := solana.PublicKeyFromBase58(programStr)
	if err != nil {
		return nil, fmt.Errorf("invalid registry program id %q: %w", programStr, err)
	}

	client := cfg.Client
	if client == nil {
		if cfg.Endpoint == "" {
			return nil, fmt.Errorf("rpc endpoint is required")
		}
		client = rpc.New(cfg.Endpoint)
	}

	return &Scanner{
		client:   client,
		program:  program,
		signer:   signer,
		logger:   logger,
		retryCfg: cfg.Retry.Normalize(),
	}, nil
}

// Scan fetches every registry account attributable to the signer and returns
// the deduplicated ProgramRecord set. The RPC call is retried with backoff on
// transient failures; individual accounts that fail to decode are skipped and
// counted, never fatal.
func (s *Scanner) Scan(ctx context.Context) (*ScanResult, error) {
	s.logger.Info("scan.start", "signer", s.signer.String(), "registry", s.program.String())

	var accounts rpc.GetProgramAccountsResult
	err := retry.Do(ctx, s.retryCfg, retry.Transient, func(ctx context.Context) error {
		var rpcErr error
		accounts, rpcErr = s.client.GetProgramAccountsWithOpts(ctx, s.program, &rpc.GetProgramAccountsOpts{
			Commitment: rpc.CommitmentFinalized,
			Encoding:   solana.EncodingBase64,
			Filters: []rpc.RPCFilter{
				{
					Memcmp: &rpc.RPCFilterMemcmp{
						Offset: signerFieldOffset,
						Bytes:  solana.Base58(s.signer.Bytes()),
					},
				},
			},
		})
		return rpcErr
	})
	if err != nil {
		return nil, fmt.Errorf("get program accounts: %w", err)
	}

	// Dedup by program id, latest deployed slot wins.
	byProgram := make(map[string]ProgramRecord)
	skipped := 0
	for _, acc := range accounts {
		if acc == nil || acc.Account == nil || acc.Account.Data == nil {
			skipped++
			continue
		}
		rec, err := decodeBuildParams(acc.Account.Data.GetBinary())
		if err != nil {
			skipped++
			s.logger.Warn("scan.account.decode_skipped", "account", acc.Pubkey.String(), "err", err)
			continue
		}
		if prev, ok := byProgram[rec.ProgramID]; ok && prev.DeployedSlot >= rec.DeployedSlot {
			continue
		}
		byProgram[rec.ProgramID] = *rec
	}

	records := make([]ProgramRecord, 0, len(byProgram))
	for _, rec := range byProgram {
		records = append(records, rec)
	}

	s.logger.Info("scan.complete",
		"accounts", len(accounts),
		"programs", len(records),
		"decode_skipped", skipped,
	)

	return &ScanResult{
		Records:       records,
		AccountsSeen:  len(accounts),
		DecodeSkipped: skipped,
	}, nil
}
