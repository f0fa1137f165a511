package gallery

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/kozaktomas/khoj/internal/facematch"
)

// LegacyEntry is a record of the older metadata.json layout, which had no
// identity ids.
type LegacyEntry struct {
	Name           string `json:"name"`
	Info           string `json:"info"`
	EmbeddingIndex int    `json:"embedding_index"`
}

var npyShape = regexp.MustCompile(`'shape':\s*\((\d+),\s*(\d+)\s*,?\)`)

// ImportLegacy builds a store from a NumPy float32 embedding matrix and the
// matching metadata.json. Identity ids are derived as <slug>/<index>.
func ImportLegacy(vectorsPath, metadataPath string, opts ...Option) (*Store, error) {
	rows, err := readNpy(vectorsPath)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(metadataPath) //nolint:gosec // path is from trusted config
	if err != nil {
		return nil, fmt.Errorf("failed to read metadata: %w", err)
	}
	var entries []LegacyEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, corrupt(metadataPath, "invalid metadata: %v", err)
	}
	if len(entries) != len(rows) {
		return nil, &StorageCorruptError{Path: metadataPath, Reason: "record count mismatch", Vectors: len(rows), Metadata: len(entries)}
	}
	if len(rows) == 0 {
		return nil, corrupt(vectorsPath, "empty embedding matrix")
	}

	records := make([]Record, len(entries))
	for i, e := range entries {
		if e.EmbeddingIndex != i {
			return nil, corrupt(metadataPath, "entry %d has embedding_index %d", i, e.EmbeddingIndex)
		}
		records[i] = Record{
			IdentityID:    fmt.Sprintf("%s/%d", facematch.Slug(e.Name), i),
			DisplayName:   e.Name,
			AuxiliaryInfo: e.Info,
			Vector:        rows[i],
		}
	}
	return FromRecords(len(rows[0]), records, opts...)
}

// readNpy reads a 2-D little-endian float32 C-ordered .npy file.
func readNpy(path string) ([][]float32, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is from trusted config
	if err != nil {
		return nil, fmt.Errorf("failed to read embeddings: %w", err)
	}
	if len(data) < 10 || !bytes.Equal(data[:6], []byte("\x93NUMPY")) {
		return nil, corrupt(path, "not a .npy file")
	}

	major := data[6]
	var headerLen, offset int
	switch major {
	case 1:
		headerLen = int(binary.LittleEndian.Uint16(data[8:10]))
		offset = 10
	case 2, 3:
		if len(data) < 12 {
			return nil, corrupt(path, "truncated header")
		}
		headerLen = int(binary.LittleEndian.Uint32(data[8:12]))
		offset = 12
	default:
		return nil, corrupt(path, "unsupported .npy version %d", major)
	}
	if len(data) < offset+headerLen {
		return nil, corrupt(path, "truncated header")
	}
	header := string(data[offset : offset+headerLen])
	body := data[offset+headerLen:]

	if !strings.Contains(header, "'descr': '<f4'") {
		return nil, corrupt(path, "expected little-endian float32 data, header %q", header)
	}
	if strings.Contains(header, "'fortran_order': True") {
		return nil, corrupt(path, "fortran ordered arrays are not supported")
	}
	match := npyShape.FindStringSubmatch(header)
	if match == nil {
		return nil, corrupt(path, "expected a 2-D array, header %q", header)
	}
	n, _ := strconv.Atoi(match[1])
	dim, _ := strconv.Atoi(match[2])
	if dim <= 0 {
		return nil, corrupt(path, "invalid dimension %d", dim)
	}
	if len(body) != n*dim*4 {
		return nil, corrupt(path, "body holds %d bytes, shape needs %d", len(body), n*dim*4)
	}

	rows := make([][]float32, n)
	for i := range rows {
		row := make([]float32, dim)
		for j := range row {
			row[j] = math.Float32frombits(binary.LittleEndian.Uint32(body[(i*dim+j)*4:]))
		}
		rows[i] = row
	}
	return rows, nil
}
