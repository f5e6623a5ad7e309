package hnsw

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"

	"github.com/klauspost/compress/zstd"
	"github.com/patrikhermansson/tohnsw/core"
	"github.com/rs/zerolog/log"
	"github.com/vmihailenco/msgpack/v5"
)

// graphMagic opens every graph artifact.
var graphMagic = [8]byte{'T', 'H', 'N', 'S', 'W', 'G', '0', '1'}

// formatVersion is bumped on incompatible changes of serializedIndex.
const formatVersion = 1

// serializedVertex is used to store a vertex during encoding/decoding.
type serializedVertex struct {
	Level int        `msgpack:"l"`
	Sig   []uint32   `msgpack:"s"`
	Links [][]uint32 `msgpack:"n"` // neighbor ranks per layer
}

// serializedIndex is the serializable version of the HNSWIndex.
// Vertices are stored in rank order.
type serializedIndex struct {
	Version        int                `msgpack:"version"`
	SketchSize     int                `msgpack:"sketch_size"`
	MaxNbConn      int                `msgpack:"max_nb_conn"`
	EfConstruction int                `msgpack:"ef_construction"`
	MaxElements    int                `msgpack:"max_elements"`
	Seed           int64              `msgpack:"seed"`
	Distance       string             `msgpack:"distance"`
	EntryPoint     int                `msgpack:"entry_point"`
	MaxLevel       int                `msgpack:"max_level"`
	Vertices       []serializedVertex `msgpack:"vertices"`
}

// Save writes the graph to w. Insertions must not run concurrently and every
// reserved rank must have been inserted.
//
// Layout: magic, crc32 of the body, body length, then the zstd-compressed
// msgpack encoding of serializedIndex.
func (h *HNSWIndex) Save(w io.Writer) error {
	n := int(h.next.Load())
	if n != h.Len() {
		return fmt.Errorf("%w: %d ranks reserved but %d inserted", core.ErrCorruptState, n, h.Len())
	}
	si := serializedIndex{
		Version:        formatVersion,
		SketchSize:     h.opts.SketchSize,
		MaxNbConn:      h.opts.MaxNbConn,
		EfConstruction: h.opts.EfConstruction,
		MaxElements:    h.opts.MaxElements,
		Seed:           h.opts.Seed,
		Distance:       "hamming",
		EntryPoint:     -1,
		MaxLevel:       -1,
		Vertices:       make([]serializedVertex, n),
	}
	for r := 0; r < n; r++ {
		v := h.nodes.get(r)
		sv := serializedVertex{Level: v.level, Sig: v.sig, Links: make([][]uint32, v.level+1)}
		// Store neighbor ranks for each level.
		for l := 0; l <= v.level; l++ {
			sv.Links[l] = v.neighbors(l)
		}
		si.Vertices[r] = sv
	}
	if ep := h.entry.Load(); ep != nil {
		si.EntryPoint = ep.rank
		si.MaxLevel = ep.level
	}

	var body bytes.Buffer
	enc, err := zstd.NewWriter(&body, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return fmt.Errorf("create zstd encoder: %w", err)
	}
	if err := msgpack.NewEncoder(enc).Encode(&si); err != nil {
		enc.Close()
		log.Error().Err(err).Msg("Failed to encode HNSWIndex")
		return fmt.Errorf("encode graph: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("flush zstd encoder: %w", err)
	}

	var header [16]byte
	copy(header[:8], graphMagic[:])
	binary.LittleEndian.PutUint32(header[8:12], crc32.ChecksumIEEE(body.Bytes()))
	binary.LittleEndian.PutUint32(header[12:16], uint32(body.Len()))
	if _, err := w.Write(header[:]); err != nil {
		return err
	}
	if _, err := w.Write(body.Bytes()); err != nil {
		return err
	}
	return nil
}

// Load reads a graph written by Save. Any structural inconsistency is
// reported as core.ErrCorruptState.
func Load(r io.Reader) (*HNSWIndex, error) {
	var header [16]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, fmt.Errorf("%w: read graph header: %v", core.ErrCorruptState, err)
	}
	if !bytes.Equal(header[:8], graphMagic[:]) {
		return nil, fmt.Errorf("%w: not a graph artifact", core.ErrCorruptState)
	}
	sum := binary.LittleEndian.Uint32(header[8:12])
	size := binary.LittleEndian.Uint32(header[12:16])
	body := make([]byte, size)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, fmt.Errorf("%w: read graph body: %v", core.ErrCorruptState, err)
	}
	if crc32.ChecksumIEEE(body) != sum {
		return nil, fmt.Errorf("%w: graph checksum mismatch", core.ErrCorruptState)
	}

	dec, err := zstd.NewReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrCorruptState, err)
	}
	defer dec.Close()
	var si serializedIndex
	if err := msgpack.NewDecoder(dec).Decode(&si); err != nil {
		log.Error().Err(err).Msg("Failed to decode HNSWIndex")
		return nil, fmt.Errorf("%w: decode graph: %v", core.ErrCorruptState, err)
	}
	if si.Version != formatVersion {
		return nil, fmt.Errorf("%w: graph format version %d, expected %d", core.ErrCorruptState, si.Version, formatVersion)
	}

	h, err := NewHNSW(Options{
		SketchSize:     si.SketchSize,
		MaxNbConn:      si.MaxNbConn,
		EfConstruction: si.EfConstruction,
		MaxElements:    si.MaxElements,
		Seed:           si.Seed,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrCorruptState, err)
	}
	if err := h.restore(&si); err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrCorruptState, err)
	}
	return h, nil
}

// restore recreates vertices and links from si after validating them.
func (h *HNSWIndex) restore(si *serializedIndex) error {
	n := len(si.Vertices)
	for r, sv := range si.Vertices {
		if len(sv.Sig) != si.SketchSize {
			return fmt.Errorf("rank %d: signature length %d", r, len(sv.Sig))
		}
		if sv.Level < 0 || sv.Level >= h.maxLayer || len(sv.Links) != sv.Level+1 {
			return fmt.Errorf("rank %d: level %d with %d link layers", r, sv.Level, len(sv.Links))
		}
		v := newVertex(r, core.Signature(sv.Sig), sv.Level)
		for l, links := range sv.Links {
			if len(links) > si.MaxNbConn {
				return fmt.Errorf("rank %d: degree %d at layer %d exceeds %d", r, len(links), l, si.MaxNbConn)
			}
			for _, nb := range links {
				if int(nb) >= n || int(nb) == r || si.Vertices[nb].Level < l {
					return fmt.Errorf("rank %d: invalid neighbor %d at layer %d", r, nb, l)
				}
			}
			if len(links) > 0 {
				v.setNeighbors(l, links)
			}
		}
		h.nodes.put(r, v)
	}
	h.next.Store(int64(n))
	h.count.Store(int64(n))

	if n == 0 {
		if si.EntryPoint != -1 {
			return errors.New("entry point set on an empty graph")
		}
		return nil
	}
	if si.EntryPoint < 0 || si.EntryPoint >= n {
		return fmt.Errorf("entry point %d out of range", si.EntryPoint)
	}
	top := 0
	for _, sv := range si.Vertices {
		top = max(top, sv.Level)
	}
	if si.Vertices[si.EntryPoint].Level != top || si.MaxLevel != top {
		return fmt.Errorf("entry point %d is not at the max level %d", si.EntryPoint, top)
	}
	h.entry.Store(&entryPoint{rank: si.EntryPoint, level: top})
	return nil
}

// SaveFile writes the graph to path, replacing any previous file atomically.
func (h *HNSWIndex) SaveFile(path string) error {
	err := core.WriteFileAtomic(path, func(w io.Writer) error {
		if err := h.Save(w); err != nil {
			if errors.Is(err, core.ErrCorruptState) {
				return err
			}
			return fmt.Errorf("%w: write %s: %v", core.ErrDumpFailure, path, err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	log.Info().Msgf("Index saved to %s", path)
	return nil
}

// LoadFile reads a graph from path.
func LoadFile(path string) (*HNSWIndex, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrCorruptState, err)
	}
	defer f.Close()
	h, err := Load(f)
	if err != nil {
		return nil, err
	}
	log.Info().Msgf("Index loaded from %s with %d vertices", path, h.Len())
	return h, nil
}
