package geometry

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"crft-host/pkg/errors"
)

// LoadSTL reads a binary or ASCII STL file into a mesh.
func LoadSTL(path string) (*Mesh, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(errors.ErrMeshInvalid, err, "open %s", path)
	}
	defer f.Close()
	return ReadSTL(f)
}

// ReadSTL reads STL data from r, auto-detecting the binary and ASCII
// variants. ASCII files start with "solid" and contain "facet" keywords;
// some binary exporters also write "solid" into the 80-byte header, so the
// body is checked too.
func ReadSTL(r io.Reader) (*Mesh, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(errors.ErrMeshInvalid, err, "read stl")
	}
	if isASCIISTL(data) {
		return readASCIISTL(data)
	}
	return readBinarySTL(data)
}

func isASCIISTL(data []byte) bool {
	head := data
	if len(head) > 512 {
		head = head[:512]
	}
	return bytes.HasPrefix(bytes.TrimSpace(head), []byte("solid")) &&
		bytes.Contains(head, []byte("facet"))
}

func readBinarySTL(data []byte) (*Mesh, error) {
	if len(data) < 84 {
		return nil, errors.New(errors.ErrMeshInvalid, "binary stl truncated: %d bytes", len(data))
	}
	count := binary.LittleEndian.Uint32(data[80:84])
	need := 84 + int(count)*50
	if len(data) < need {
		return nil, errors.New(errors.ErrMeshInvalid,
			"binary stl truncated: %d triangles need %d bytes, have %d", count, need, len(data))
	}
	tris := make([]Triangle, 0, count)
	off := 84
	for i := uint32(0); i < count; i++ {
		// 12 bytes normal (ignored), 3 vertices, 2-byte attribute.
		v := func(o int) Point {
			return Point{
				X: float64(math.Float32frombits(binary.LittleEndian.Uint32(data[o:]))),
				Y: float64(math.Float32frombits(binary.LittleEndian.Uint32(data[o+4:]))),
				Z: float64(math.Float32frombits(binary.LittleEndian.Uint32(data[o+8:]))),
			}
		}
		tris = append(tris, Triangle{A: v(off + 12), B: v(off + 24), C: v(off + 36)})
		off += 50
	}
	return NewMesh(tris)
}

func readASCIISTL(data []byte) (*Mesh, error) {
	var tris []Triangle
	var verts []Point

	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	line := 0
	for sc.Scan() {
		line++
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 || fields[0] != "vertex" {
			continue
		}
		if len(fields) < 4 {
			return nil, errors.New(errors.ErrMeshInvalid, "ascii stl line %d: short vertex", line)
		}
		var p Point
		var perr error
		if p.X, perr = strconv.ParseFloat(fields[1], 64); perr == nil {
			if p.Y, perr = strconv.ParseFloat(fields[2], 64); perr == nil {
				p.Z, perr = strconv.ParseFloat(fields[3], 64)
			}
		}
		if perr != nil {
			return nil, errors.Wrap(errors.ErrMeshInvalid, perr, "ascii stl line %d", line)
		}
		verts = append(verts, p)
		if len(verts) == 3 {
			tris = append(tris, Triangle{A: verts[0], B: verts[1], C: verts[2]})
			verts = verts[:0]
		}
	}
	if err := sc.Err(); err != nil {
		return nil, errors.Wrap(errors.ErrMeshInvalid, err, "scan ascii stl")
	}
	if len(verts) != 0 {
		return nil, errors.New(errors.ErrMeshInvalid, "ascii stl: %d dangling vertices", len(verts))
	}
	return NewMesh(tris)
}

// WriteBinarySTL writes the mesh as binary STL, used by the CLI to dump
// intermediate solids while debugging print profiles.
func WriteBinarySTL(w io.Writer, m *Mesh) error {
	var header [80]byte
	copy(header[:], "crft-host export")
	if _, err := w.Write(header[:]); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(len(m.Triangles))); err != nil {
		return err
	}
	buf := make([]byte, 50)
	for _, t := range m.Triangles {
		for i := range buf {
			buf[i] = 0
		}
		put := func(o int, p Point) {
			binary.LittleEndian.PutUint32(buf[o:], math.Float32bits(float32(p.X)))
			binary.LittleEndian.PutUint32(buf[o+4:], math.Float32bits(float32(p.Y)))
			binary.LittleEndian.PutUint32(buf[o+8:], math.Float32bits(float32(p.Z)))
		}
		put(12, t.A)
		put(24, t.B)
		put(36, t.C)
		if _, err := w.Write(buf); err != nil {
			return fmt.Errorf("write facet: %w", err)
		}
	}
	return nil
}
