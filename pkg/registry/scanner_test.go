// Copyright 2025 KrakLabs
// SPDX-License-Identifier: AGPL-3.0-or-later

package registry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kraklabs/solcorpus/internal/retry"
)

var (
	testSigner  = solana.MustPublicKeyFromBase58("9xQeWvG816bUx9EPjHmaT23yvVM2ZWbrrpZb9PusVFin")
	testProgram = solana.MustPublicKeyFromBase58("4Nd1mBQtrMJVYVfKf2PJy9NZUZdTAsp7D4xWLs4gDB4T")
)

// fakeAccountFetcher returns scripted responses and records call counts.
type fakeAccountFetcher struct {
	responses []rpc.GetProgramAccountsResult
	errs      []error
	calls     int
}

func (f *fakeAccountFetcher) GetProgramAccountsWithOpts(ctx context.Context, publicKey solana.PublicKey, opts *rpc.GetProgramAccountsOpts) (rpc.GetProgramAccountsResult, error) {
	i := f.calls
	f.calls++
	var err error
	if i < len(f.errs) {
		err = f.errs[i]
	}
	var out rpc.GetProgramAccountsResult
	if i < len(f.responses) {
		out = f.responses[i]
	}
	return out, err
}

func keyedAccount(t *testing.T, params buildParams) *rpc.KeyedAccount {
	t.Helper()
	data, err := encodeBuildParams(params)
	require.NoError(t, err)
	return &rpc.KeyedAccount{
		Pubkey: solana.NewWallet().PublicKey(),
		Account: &rpc.Account{
			Owner: testProgram,
			Data:  rpc.DataBytesOrJSONFromBytes(data),
		},
	}
}

func testScanner(t *testing.T, fetcher AccountFetcher) *Scanner {
	t.Helper()
	s, err := NewScanner(Config{
		Client: fetcher,
		Signer: testSigner.String(),
		Retry:  retry.Config{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond},
	}, nil)
	require.NoError(t, err)
	return s
}

func TestScanner_DecodesPublishedUploads(t *testing.T) {
	fetcher := &fakeAccountFetcher{
		responses: []rpc.GetProgramAccountsResult{{
			keyedAccount(t, buildParams{
				Address:      testProgram,
				Signer:       testSigner,
				Version:      "0.2.11",
				GitURL:       "https://github.com/example/amm",
				Commit:       "2f5b8e9c1a4d7e0b3c6f9a2d5e8b1c4f7a0d3e6b",
				DeployedSlot: 250_000_000,
				Bump:         254,
			}),
		}},
	}

	result, err := testScanner(t, fetcher).Scan(context.Background())
	require.NoError(t, err)
	require.Len(t, result.Records, 1)

	rec := result.Records[0]
	assert.Equal(t, testProgram.String(), rec.ProgramID)
	assert.Equal(t, "https://github.com/example/amm", rec.RepoURL)
	assert.Equal(t, "2f5b8e9c1a4d7e0b3c6f9a2d5e8b1c4f7a0d3e6b", rec.CommitRef)
	assert.Equal(t, "0.2.11", rec.Version)
	assert.Equal(t, uint64(250_000_000), rec.DeployedSlot)
	assert.Zero(t, result.DecodeSkipped)
}

func TestScanner_LatestUploadWinsOnRepublish(t *testing.T) {
	older := keyedAccount(t, buildParams{
		Address:      testProgram,
		Signer:       testSigner,
		GitURL:       "https://github.com/example/amm",
		Commit:       "aaaa",
		DeployedSlot: 100,
	})
	newer := keyedAccount(t, buildParams{
		Address:      testProgram,
		Signer:       testSigner,
		GitURL:       "https://github.com/example/amm",
		Commit:       "bbbb",
		DeployedSlot: 200,
	})

	// Order must not matter.
	for _, accounts := range []rpc.GetProgramAccountsResult{{older, newer}, {newer, older}} {
		fetcher := &fakeAccountFetcher{responses: []rpc.GetProgramAccountsResult{accounts}}
		result, err := testScanner(t, fetcher).Scan(context.Background())
		require.NoError(t, err)
		require.Len(t, result.Records, 1)
		assert.Equal(t, "bbbb", result.Records[0].CommitRef)
	}
}

func TestScanner_SkipsUndecodableAccounts(t *testing.T) {
	good := keyedAccount(t, buildParams{
		Address:      testProgram,
		Signer:       testSigner,
		GitURL:       "https://github.com/example/vault",
		Commit:       "cccc",
		DeployedSlot: 1,
	})
	garbage := &rpc.KeyedAccount{
		Pubkey: solana.NewWallet().PublicKey(),
		Account: &rpc.Account{
			Owner: testProgram,
			Data:  rpc.DataBytesOrJSONFromBytes([]byte{0x01, 0x02, 0x03}),
		},
	}

	fetcher := &fakeAccountFetcher{responses: []rpc.GetProgramAccountsResult{{garbage, good}}}
	result, err := testScanner(t, fetcher).Scan(context.Background())
	require.NoError(t, err)
	assert.Len(t, result.Records, 1)
	assert.Equal(t, 1, result.DecodeSkipped)
}

func TestScanner_RetriesTransientRPCErrors(t *testing.T) {
	good := keyedAccount(t, buildParams{
		Address:      testProgram,
		Signer:       testSigner,
		GitURL:       "https://github.com/example/vault",
		Commit:       "dddd",
		DeployedSlot: 1,
	})
	fetcher := &fakeAccountFetcher{
		errs:      []error{errors.New("429 too many requests"), nil},
		responses: []rpc.GetProgramAccountsResult{nil, {good}},
	}

	result, err := testScanner(t, fetcher).Scan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, fetcher.calls)
	assert.Len(t, result.Records, 1)
}

func TestScanner_RejectsBadConfig(t *testing.T) {
	_, err := NewScanner(Config{Signer: "not-base58!"}, nil)
	assert.Error(t, err)

	_, err = NewScanner(Config{Signer: testSigner.String()}, nil)
	assert.Error(t, err, "missing endpoint and client should fail")
}

func TestDecodeBuildParams_RejectsForeignDiscriminator(t *testing.T) {
	data, err := encodeBuildParams(buildParams{Address: testProgram, Signer: testSigner, GitURL: "u", Commit: "c"})
	require.NoError(t, err)
	data[0] ^= 0xFF

	_, err = decodeBuildParams(data)
	assert.Error(t, err)
}

func TestPager_RestartableIteration(t *testing.T) {
	var accounts rpc.GetProgramAccountsResult
	for i := 0; i < 5; i++ {
		wallet := solana.NewWallet().PublicKey()
		accounts = append(accounts, keyedAccount(t, buildParams{
			Address:      wallet,
			Signer:       testSigner,
			GitURL:       "https://github.com/example/repo",
			Commit:       "ffff",
			DeployedSlot: uint64(i),
		}))
	}

	fetcher := &fakeAccountFetcher{responses: []rpc.GetProgramAccountsResult{accounts, accounts}}
	scanner := testScanner(t, fetcher)

	pager := NewPager(scanner, 2, "")
	first, err := pager.Next(context.Background())
	require.NoError(t, err)
	require.Len(t, first.Records, 2)
	assert.True(t, first.HasMore)

	// Restart from the token: the remaining 3 records appear, none repeated.
	resumed := NewPager(scanner, 10, first.Next)
	rest, err := resumed.Next(context.Background())
	require.NoError(t, err)
	assert.Len(t, rest.Records, 3)
	assert.False(t, rest.HasMore)
	for _, r := range rest.Records {
		for _, seen := range first.Records {
			assert.NotEqual(t, seen.ProgramID, r.ProgramID)
		}
	}
}

func TestPager_DrainCollectsEveryRecordOnce(t *testing.T) {
	var accounts rpc.GetProgramAccountsResult
	for i := 0; i < 5; i++ {
		wallet := solana.NewWallet().PublicKey()
		accounts = append(accounts, keyedAccount(t, buildParams{
			Address:      wallet,
			Signer:       testSigner,
			GitURL:       "https://github.com/example/repo",
			Commit:       "ffff",
			DeployedSlot: uint64(i),
		}))
	}

	fetcher := &fakeAccountFetcher{responses: []rpc.GetProgramAccountsResult{accounts}}
	pager := NewPager(testScanner(t, fetcher), 2, "")

	// The loop the scan command runs: drain pages until HasMore is false.
	var drained []ProgramRecord
	pages := 0
	for {
		page, err := pager.Next(context.Background())
		require.NoError(t, err)
		drained = append(drained, page.Records...)
		pages++
		if !page.HasMore {
			break
		}
	}

	assert.Equal(t, 3, pages)
	require.Len(t, drained, 5)
	seen := make(map[string]bool, len(drained))
	for _, r := range drained {
		assert.False(t, seen[r.ProgramID], "program %s drained twice", r.ProgramID)
		seen[r.ProgramID] = true
	}
	assert.Equal(t, 1, fetcher.calls, "one scan serves every page")
}
