package gridworld

import (
	"crypto/sha256"
	"encoding/binary"
	"sort"

	"settlecraft.ai/internal/sim/geom"
	"settlecraft.ai/internal/sim/materials"
)

const chunkSize = 16

type ChunkKey struct {
	CX, CY, CZ int
}

// Chunk is a 16x16x16 section of palette ids.
type Chunk struct {
	Key    ChunkKey
	Blocks []uint16

	dirty bool
	hash  [32]byte
}

func (c *Chunk) index(x, y, z int) int {
	// x fastest, then z, then y
	return x + z*chunkSize + y*chunkSize*chunkSize
}

func (c *Chunk) Get(x, y, z int) uint16 { return c.Blocks[c.index(x, y, z)] }

func (c *Chunk) Set(x, y, z int, b uint16) {
	i := c.index(x, y, z)
	if c.Blocks[i] == b {
		return
	}
	c.Blocks[i] = b
	c.dirty = true
}

func (c *Chunk) Digest() [32]byte {
	if c.dirty || c.hash == ([32]byte{}) {
		h := sha256.New()
		var tmp [2]byte
		for _, v := range c.Blocks {
			binary.LittleEndian.PutUint16(tmp[:], v)
			h.Write(tmp[:])
		}
		copy(c.hash[:], h.Sum(nil))
		c.dirty = false
	}
	return c.hash
}

// Gen describes the flat terrain generated for untouched chunks.
type Gen struct {
	Seed      int64 `yaml:"seed"`
	GroundY   int   `yaml:"ground_y"`
	BoundaryR int   `yaml:"boundary_r"`
	// FoliagePermille is the chance per surface cell of a replaceable plant.
	FoliagePermille int `yaml:"foliage_permille"`
	// StonePermille is the chance per surface cell of an exposed boulder.
	StonePermille int `yaml:"stone_permille"`
}

func DefaultGen() Gen {
	return Gen{Seed: 1, GroundY: 64, BoundaryR: 512, FoliagePermille: 40, StonePermille: 5}
}

// chunkStore is accessed only from the simulation loop goroutine.
type chunkStore struct {
	gen     Gen
	palette *palette
	chunks  map[ChunkKey]*Chunk
}

func newChunkStore(gen Gen, p *palette) *chunkStore {
	return &chunkStore{gen: gen, palette: p, chunks: map[ChunkKey]*Chunk{}}
}

func (s *chunkStore) inBounds(pos geom.Vec3i) bool {
	r := s.gen.BoundaryR
	if r <= 0 {
		return true
	}
	return pos.X >= -r && pos.X <= r && pos.Z >= -r && pos.Z <= r
}

func keyOf(pos geom.Vec3i) (ChunkKey, int, int, int) {
	return ChunkKey{floorDiv(pos.X, chunkSize), floorDiv(pos.Y, chunkSize), floorDiv(pos.Z, chunkSize)},
		mod(pos.X, chunkSize), mod(pos.Y, chunkSize), mod(pos.Z, chunkSize)
}

func (s *chunkStore) get(pos geom.Vec3i) uint16 {
	if !s.inBounds(pos) {
		return s.palette.air
	}
	k, x, y, z := keyOf(pos)
	return s.chunk(k).Get(x, y, z)
}

func (s *chunkStore) set(pos geom.Vec3i, b uint16) bool {
	if !s.inBounds(pos) {
		return false
	}
	k, x, y, z := keyOf(pos)
	s.chunk(k).Set(x, y, z, b)
	return true
}

func (s *chunkStore) chunk(k ChunkKey) *Chunk {
	if ch, ok := s.chunks[k]; ok {
		return ch
	}
	ch := &Chunk{Key: k, Blocks: make([]uint16, chunkSize*chunkSize*chunkSize)}
	s.generate(ch)
	ch.dirty = true
	s.chunks[k] = ch
	return ch
}

func (s *chunkStore) generate(ch *Chunk) {
	p := s.palette
	ground := s.gen.GroundY
	for y := 0; y < chunkSize; y++ {
		wy := ch.Key.CY*chunkSize + y
		for z := 0; z < chunkSize; z++ {
			wz := ch.Key.CZ*chunkSize + z
			for x := 0; x < chunkSize; x++ {
				wx := ch.Key.CX*chunkSize + x
				b := p.air
				switch {
				case wy < ground-4:
					b = p.id("STONE")
				case wy < ground-1:
					b = p.id("DIRT")
				case wy == ground-1:
					b = p.id("GRASS_BLOCK")
				case wy == ground:
					roll := int(hash2(s.gen.Seed, wx, wz) % 1000)
					switch {
					case roll < s.gen.StonePermille:
						b = p.id("STONE")
					case roll < s.gen.StonePermille+s.gen.FoliagePermille:
						b = p.id("TALL_GRASS")
					}
				}
				ch.Blocks[ch.index(x, y, z)] = b
			}
		}
	}
}

func (s *chunkStore) loadedKeys() []ChunkKey {
	keys := make([]ChunkKey, 0, len(s.chunks))
	for k := range s.chunks {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := keys[i], keys[j]
		if a.CX != b.CX {
			return a.CX < b.CX
		}
		if a.CY != b.CY {
			return a.CY < b.CY
		}
		return a.CZ < b.CZ
	})
	return keys
}

// palette interns block states as uint16 ids. Id 0 is air.
type palette struct {
	states []materials.State
	ids    map[materials.State]uint16
	air    uint16
}

func newPalette() *palette {
	air := materials.State{Kind: materials.Air}
	return &palette{states: []materials.State{air}, ids: map[materials.State]uint16{air: 0}}
}

func (p *palette) id(kind string) uint16 { return p.intern(materials.State{Kind: kind}) }

func (p *palette) intern(s materials.State) uint16 {
	if s.Kind == "" {
		return p.air
	}
	if id, ok := p.ids[s]; ok {
		return id
	}
	id := uint16(len(p.states))
	p.states = append(p.states, s)
	p.ids[s] = id
	return id
}

func (p *palette) state(id uint16) materials.State {
	if int(id) >= len(p.states) {
		return p.states[p.air]
	}
	return p.states[id]
}

func floorDiv(a, b int) int {
	q := a / b
	if a%b < 0 {
		q--
	}
	return q
}

func mod(a, b int) int {
	m := a % b
	if m < 0 {
		m += b
	}
	return m
}

func mix64(z uint64) uint64 {
	z += 0x9e3779b97f4a7c15
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	return z ^ (z >> 31)
}

func hash2(seed int64, x, z int) uint64 {
	ux := uint64(uint32(int32(x)))
	uz := uint64(uint32(int32(z)))
	return mix64(uint64(seed) ^ (ux * 0x9e3779b97f4a7c15) ^ (uz * 0xbf58476d1ce4e5b9))
}
