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
	"bytes"
	"crypto/sha256"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

// DefaultRegistryProgram is the otter-verify registry program on mainnet.
const DefaultRegistryProgram = "verifycLy8mB96wd9wqq3WDXQwM4oU6r42Th37Db9fC"

// ProgramRecord is one verified upload observed on-chain: the deployed
// program id, the repository it was built from, and the pinned commit.
type ProgramRecord struct {
	ProgramID    string `json:"program_id"`
	RepoURL      string `json:"repo_url"`
	CommitRef    string `json:"commit_ref"`
	Version      string `json:"version,omitempty"`
	DeployedSlot uint64 `json:"deployed_slot,omitempty"`
}

// buildParams mirrors the registry program's OtterBuildParams account layout
// (borsh, after the 8-byte anchor discriminator).
type buildParams struct {
	Address      solana.PublicKey
	Signer       solana.PublicKey
	Version      string
	GitURL       string
	Commit       string
	Args         []string
	DeployedSlot uint64
	Bump         uint8
}

// buildParamsDiscriminator is sha256("account:OtterBuildParams")[:8], the
// anchor account discriminator.
var buildParamsDiscriminator = accountDiscriminator("OtterBuildParams")

func accountDiscriminator(name string) [8]byte {
	sum := sha256.Sum256([]byte("account:" + name))
	var d [8]byte
	copy(d[:], sum[:8])
	return d
}

// signerFieldOffset is where the signer pubkey sits inside the account data:
// 8-byte discriminator followed by the 32-byte program address.
const signerFieldOffset = 8 + 32

// decodeBuildParams decodes a registry account into a ProgramRecord.
// Accounts with a foreign discriminator or a truncated payload are rejected.
func decodeBuildParams(data []byte) (*ProgramRecord, error) {
	if len(data) < 8 {
		return nil, fmt.Errorf("account data too short: %d bytes", len(data))
	}
	var disc [8]byte
	copy(disc[:], data[:8])
	if disc != buildParamsDiscriminator {
		return nil, fmt.Errorf("unexpected account discriminator %x", disc)
	}

	var params buildParams
	dec := bin.NewBorshDecoder(data[8:])
	if err := dec.Decode(&params); err != nil {
		return nil, fmt.Errorf("decode build params: %w", err)
	}

	if params.GitURL == "" {
		return nil, fmt.Errorf("build params for %s carry no repository URL", params.Address)
	}
	if params.Commit == "" {
		return nil, fmt.Errorf("build params for %s carry no commit", params.Address)
	}

	return &ProgramRecord{
		ProgramID:    params.Address.String(),
		RepoURL:      params.GitURL,
		CommitRef:    params.Commit,
		Version:      params.Version,
		DeployedSlot: params.DeployedSlot,
	}, nil
}

// encodeBuildParams serializes an account payload in the registry layout.
// Used by tests to build synthetic accounts.
func encodeBuildParams(p buildParams) ([]byte, error) {
	var buf bytes.Buffer
	buf.Write(buildParamsDiscriminator[:])

	enc := bin.NewBorshEncoder(&buf)
	if err := enc.Encode(p); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
