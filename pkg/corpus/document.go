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

package corpus

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path"
	"strings"

	"github.com/kraklabs/solcorpus/pkg/manifest"
)

// FunctionRecord is the atomic unit of the corpus: one extracted function
// plus the identity of the program and repository it came from.
type FunctionRecord struct {
	Name         string                         `json:"name"`
	Content      string                         `json:"content"`
	StartLine    int                            `json:"start_line"`
	EndLine      int                            `json:"end_line"`
	Attributes   []string                       `json:"attributes"`
	Docstring    string                         `json:"docstring,omitempty"`
	RepoURL      string                         `json:"repo_url"`
	ProgramID    string                         `json:"program_id"`
	Dependencies map[string]manifest.Dependency `json:"dependencies"`
}

// AnalysisRecord is the optional model-derived classification. A document
// without one carries no "analysis" key at all; absence is meaningful and
// distinct from empty strings.
type AnalysisRecord struct {
	Category    string `json:"category"`
	Description string `json:"description"`
	SDKUsage    string `json:"sdk_usage"`
}

// OutputDocument is one line of an NDJSON batch file.
type OutputDocument struct {
	ID       string          `json:"id"`
	File     string          `json:"file"`
	Function FunctionRecord  `json:"function"`
	Analysis *AnalysisRecord `json:"analysis,omitempty"`
}

// NewDocument assembles a document and assigns its deterministic identity.
// Attributes always encode as an array, never null.
func NewDocument(file string, fn FunctionRecord, analysis *AnalysisRecord) OutputDocument {
	if fn.Attributes == nil {
		fn.Attributes = []string{}
	}
	return OutputDocument{
		ID:       DocumentID(fn.ProgramID, file, fn.StartLine, fn.EndLine),
		File:     normalizeFilePath(file),
		Function: fn,
		Analysis: analysis,
	}
}

// DocumentID derives the document identity from the program, file, and line
// span. The content hash is deliberately excluded so an identity survives
// parser improvements that change attribute or docstring extraction.
func DocumentID(programID, file string, startLine, endLine int) string {
	idStr := fmt.Sprintf("%s|%s|%d|%d", programID, normalizeFilePath(file), startLine, endLine)
	hash := sha256.Sum256([]byte(idStr))
	return hex.EncodeToString(hash[:])
}

// normalizeFilePath keeps identities stable across platforms: forward
// slashes, no leading ./ or /.
func normalizeFilePath(p string) string {
	p = strings.TrimPrefix(p, "./")
	p = path.Clean(p)
	return strings.TrimPrefix(p, "/")
}
