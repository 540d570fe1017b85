package kdtree

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"runtime"
	"unsafe"

	"github.com/edsrzf/mmap-go"
)

// On-disk layout, little-endian throughout:
//
//	header (48 bytes): magic u32, version u32, dims u32, leafSize u32,
//	    metricID u32, numNodes u32, n u64, minkowskiP f64, reserved u64
//	nodes: numNodes records of 32 bytes each
//	perm:  n * int32
//	pad:   zero bytes up to 8-byte alignment
//	data:  n*dims * float64
//
// Every float64 section starts 8-byte aligned relative to the file start,
// so a page-aligned mapping can be viewed in place without copying.
const (
	fileMagic   = 0x3154444b // "KDT1"
	fileVersion = 1

	headerSize     = 48
	nodeRecordSize = 32
)

const (
	metricIDEuclidean uint32 = 1
	metricIDManhattan uint32 = 2
	metricIDChebyshev uint32 = 3
	metricIDMinkowski uint32 = 4
)

func metricToID(m Metric) (id uint32, p float64, err error) {
	switch m := m.(type) {
	case EuclideanMetric:
		return metricIDEuclidean, 0, nil
	case ManhattanMetric:
		return metricIDManhattan, 0, nil
	case ChebyshevMetric:
		return metricIDChebyshev, 0, nil
	case MinkowskiMetric:
		return metricIDMinkowski, m.P, nil
	default:
		return 0, 0, fmt.Errorf("%w: metric %T cannot be persisted", ErrInvalidParameter, m)
	}
}

func metricFromID(id uint32, p float64) (Metric, error) {
	switch id {
	case metricIDEuclidean:
		return EuclideanMetric{}, nil
	case metricIDManhattan:
		return ManhattanMetric{}, nil
	case metricIDChebyshev:
		return ChebyshevMetric{}, nil
	case metricIDMinkowski:
		if p < 1 {
			return nil, fmt.Errorf("%w: persisted Minkowski P %v is < 1", ErrInvalidInput, p)
		}
		return MinkowskiMetric{P: p}, nil
	default:
		return nil, fmt.Errorf("%w: unknown metric id %d", ErrInvalidInput, id)
	}
}

func align8(x int) int {
	return (x + 7) &^ 7
}

// SaveTo writes the tree to path in the package's binary format.
func (t *Tree) SaveTo(path string) error {
	metricID, minkP, err := metricToID(t.metric)
	if err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)

	le := binary.LittleEndian
	header := make([]byte, headerSize)
	le.PutUint32(header[0:], fileMagic)
	le.PutUint32(header[4:], fileVersion)
	le.PutUint32(header[8:], uint32(t.dims))
	le.PutUint32(header[12:], uint32(t.leafSize))
	le.PutUint32(header[16:], metricID)
	le.PutUint32(header[20:], uint32(len(t.nodes)))
	le.PutUint64(header[24:], uint64(t.n))
	le.PutUint64(header[32:], math.Float64bits(minkP))
	// header[40:48] reserved

	if _, err := w.Write(header); err != nil {
		f.Close()
		return err
	}

	rec := make([]byte, nodeRecordSize)
	for _, nd := range t.nodes {
		le.PutUint32(rec[0:], uint32(nd.kind))
		le.PutUint32(rec[4:], uint32(nd.splitDim))
		le.PutUint64(rec[8:], math.Float64bits(nd.splitVal))
		le.PutUint32(rec[16:], uint32(nd.left))
		le.PutUint32(rec[20:], uint32(nd.right))
		le.PutUint32(rec[24:], uint32(nd.bucketStart))
		le.PutUint32(rec[28:], uint32(nd.bucketEnd))
		if _, err := w.Write(rec); err != nil {
			f.Close()
			return err
		}
	}

	if err := binary.Write(w, le, t.perm); err != nil {
		f.Close()
		return err
	}
	permEnd := headerSize + nodeRecordSize*len(t.nodes) + 4*len(t.perm)
	if pad := align8(permEnd) - permEnd; pad > 0 {
		if _, err := w.Write(make([]byte, pad)); err != nil {
			f.Close()
			return err
		}
	}
	if err := binary.Write(w, le, t.data); err != nil {
		f.Close()
		return err
	}

	if err := w.Flush(); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// SaveToAtomic writes the tree to path atomically: it writes to
// path+".tmp" and renames over the target, so a reader always sees
// either the old file or the new one. On platforms where rename refuses
// to replace an existing file, the target is removed and the rename
// retried, at the cost of the atomicity guarantee there.
func (t *Tree) SaveToAtomic(path string) error {
	tmp := path + ".tmp"
	if err := t.SaveTo(tmp); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		if rmErr := os.Remove(path); rmErr != nil {
			return err
		}
		return os.Rename(tmp, path)
	}
	return nil
}

// Load reads a persisted tree fully into memory. The file is not kept
// open; Close on the returned tree is a no-op.
func Load(path string) (*Tree, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return parseTree(buf, true, nil)
}

// OpenFile maps a persisted tree read-only. The permutation and
// coordinate sections are viewed in place with zero copying; only the
// node records are decoded. Call Close on the returned tree to release
// the mapping.
func OpenFile(path string) (*Tree, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	m, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		f.Close()
		return nil, err
	}
	t, err := parseTree(m, false, &mappedFile{f: f, m: m})
	if err != nil {
		_ = m.Unmap()
		f.Close()
		return nil, err
	}
	return t, nil
}

// parseTree decodes the binary format. With copySections the perm and
// data sections are copied to the heap; otherwise they are unsafe views
// into buf, which must then outlive the tree (mapped keeps it alive).
func parseTree(buf []byte, copySections bool, mapped *mappedFile) (*Tree, error) {
	le := binary.LittleEndian
	if len(buf) < headerSize {
		return nil, fmt.Errorf("%w: file too short for header: %d bytes", ErrInvalidInput, len(buf))
	}
	if magic := le.Uint32(buf[0:]); magic != fileMagic {
		return nil, fmt.Errorf("%w: bad magic 0x%08x", ErrInvalidInput, magic)
	}
	if version := le.Uint32(buf[4:]); version != fileVersion {
		return nil, fmt.Errorf("%w: unsupported format version %d", ErrInvalidInput, version)
	}

	dims := int(le.Uint32(buf[8:]))
	leafSize := int(le.Uint32(buf[12:]))
	metricID := le.Uint32(buf[16:])
	numNodes := int(le.Uint32(buf[20:]))
	n := int(le.Uint64(buf[24:]))
	minkP := math.Float64frombits(le.Uint64(buf[32:]))

	if dims < 1 || leafSize < 1 || numNodes < 1 || n < 0 {
		return nil, fmt.Errorf("%w: implausible header (dims=%d, leafSize=%d, nodes=%d, n=%d)",
			ErrInvalidInput, dims, leafSize, numNodes, n)
	}
	metric, err := metricFromID(metricID, minkP)
	if err != nil {
		return nil, err
	}

	nodesOff := headerSize
	permOff := nodesOff + nodeRecordSize*numNodes
	dataOff := align8(permOff + 4*n)
	total := dataOff + 8*n*dims
	if len(buf) < total {
		return nil, fmt.Errorf("%w: file truncated: %d bytes, want %d", ErrInvalidInput, len(buf), total)
	}

	nodes := make([]node, numNodes)
	for i := range nodes {
		rec := buf[nodesOff+i*nodeRecordSize:]
		kind := nodeKind(le.Uint32(rec[0:]))
		if kind != nodeInternal && kind != nodeLeaf {
			return nil, fmt.Errorf("%w: node %d has unknown kind %d", ErrInvalidInput, i, kind)
		}
		nodes[i] = node{
			kind:        kind,
			splitDim:    int32(le.Uint32(rec[4:])),
			splitVal:    math.Float64frombits(le.Uint64(rec[8:])),
			left:        int32(le.Uint32(rec[16:])),
			right:       int32(le.Uint32(rec[20:])),
			bucketStart: int32(le.Uint32(rec[24:])),
			bucketEnd:   int32(le.Uint32(rec[28:])),
		}
		if nodes[i].kind == nodeInternal {
			if nodes[i].splitDim < 0 || int(nodes[i].splitDim) >= dims {
				return nil, fmt.Errorf("%w: node %d has out-of-range split dimension %d",
					ErrInvalidInput, i, nodes[i].splitDim)
			}
			// Nodes are written in preorder, so children always come after
			// their parent. Requiring that here also rules out negative
			// indices and reference cycles, which would otherwise panic or
			// loop during traversal.
			if nodes[i].left <= int32(i) || int(nodes[i].left) >= numNodes ||
				nodes[i].right <= int32(i) || int(nodes[i].right) >= numNodes {
				return nil, fmt.Errorf("%w: node %d references out-of-range children", ErrInvalidInput, i)
			}
		} else if nodes[i].bucketStart < 0 || int(nodes[i].bucketStart) > int(nodes[i].bucketEnd) || int(nodes[i].bucketEnd) > n {
			return nil, fmt.Errorf("%w: node %d has invalid bucket range [%d, %d)",
				ErrInvalidInput, i, nodes[i].bucketStart, nodes[i].bucketEnd)
		}
	}

	var perm []int32
	var data []float64
	if n > 0 {
		if copySections {
			perm = make([]int32, n)
			for i := range perm {
				perm[i] = int32(le.Uint32(buf[permOff+4*i:]))
			}
			data = make([]float64, n*dims)
			for i := range data {
				data[i] = math.Float64frombits(le.Uint64(buf[dataOff+8*i:]))
			}
		} else {
			// Zero-copy views. The mapping is page-aligned and the section
			// offsets are multiples of the element sizes, so alignment holds.
			perm = unsafe.Slice((*int32)(unsafe.Pointer(&buf[permOff])), n)
			data = unsafe.Slice((*float64)(unsafe.Pointer(&buf[dataOff])), n*dims)
		}
	}

	for i, p := range perm {
		if p < 0 || int(p) >= n {
			return nil, fmt.Errorf("%w: permutation entry %d is out of range: %d", ErrInvalidInput, i, p)
		}
	}

	t := &Tree{
		dims:     dims,
		n:        n,
		leafSize: leafSize,
		workers:  runtime.NumCPU(),
		metric:   metric,
		nodes:    nodes,
		perm:     perm,
		data:     data,
	}
	if !copySections {
		t.mapped = mapped
	}
	return t, nil
}

// mappedFile holds the mmap state behind a tree opened with OpenFile.
type mappedFile struct {
	f *os.File
	m mmap.MMap
}

func (mf *mappedFile) close() error {
	if mf.m != nil {
		if err := mf.m.Unmap(); err != nil {
			return err
		}
		mf.m = nil
	}
	if mf.f != nil {
		err := mf.f.Close()
		mf.f = nil
		return err
	}
	return nil
}
