package pointcloud

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

// PCDType is the format of a pcd file's data section.
type PCDType int

// The supported pcd data sections.
const (
	PCDAscii PCDType = iota
	PCDBinary
	PCDCompressed
)

type pcdFieldType int

const (
	pcdPointOnly  pcdFieldType = 3
	pcdPointValue pcdFieldType = 4
)

type pcdHeader struct {
	fields pcdFieldType
	size   []uint64
	types  []string
	count  []uint64
	width  uint64
	height uint64
	points uint64
	data   PCDType
}

const pcdCommentChar = "#"

var pcdHeaderFields = []string{"VERSION", "FIELDS", "SIZE", "TYPE", "COUNT", "WIDTH", "HEIGHT", "VIEWPOINT", "POINTS", "DATA"}

// NewFromFile reads a pcd file from disk.
func NewFromFile(fn string) (cloud PointCloud, err error) {
	//nolint:gosec
	f, err := os.Open(fn)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot open point cloud file %q", fn)
	}
	defer func() {
		err = multierr.Combine(err, f.Close())
	}()
	return ReadPCD(f)
}

func parseUintTokens(name string, tokens []string, fields pcdFieldType) ([]uint64, error) {
	if len(tokens) != int(fields) {
		return nil, fmt.Errorf("unexpected number of fields in %s line", name)
	}
	out := make([]uint64, len(tokens))
	for i, token := range tokens {
		v, err := strconv.ParseUint(token, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid %s field %s: %w", name, token, err)
		}
		out[i] = v
	}
	return out, nil
}

func parsePCDHeaderLine(line string, index int, header *pcdHeader) error {
	var err error
	name := pcdHeaderFields[index]
	field, value, _ := strings.Cut(line, " ")
	tokens := strings.Fields(value)
	if field != name {
		return fmt.Errorf("line is supposed to start with %s but is %s", name, line)
	}

	switch name {
	case "VERSION":
		if value != ".7" && value != "0.7" {
			return fmt.Errorf("unsupported pcd version %s", value)
		}
	case "FIELDS":
		switch value {
		case "x y z":
			header.fields = pcdPointOnly
		case "x y z value", "x y z intensity":
			header.fields = pcdPointValue
		default:
			return fmt.Errorf("unsupported pcd fields %s", value)
		}
	case "SIZE":
		header.size, err = parseUintTokens(name, tokens, header.fields)
	case "TYPE":
		if len(tokens) != int(header.fields) {
			return fmt.Errorf("unexpected number of fields in TYPE line")
		}
		header.types = tokens
	case "COUNT":
		header.count, err = parseUintTokens(name, tokens, header.fields)
	case "WIDTH":
		header.width, err = strconv.ParseUint(value, 10, 64)
	case "HEIGHT":
		header.height, err = strconv.ParseUint(value, 10, 64)
	case "VIEWPOINT":
		// only the identity viewpoint is supported; clouds are already in the world frame
		if len(tokens) != 7 {
			return fmt.Errorf("unexpected number of fields in VIEWPOINT line. Expected 7, got %d", len(tokens))
		}
	case "POINTS":
		header.points, err = strconv.ParseUint(value, 10, 64)
		if err == nil && header.points != header.width*header.height {
			return fmt.Errorf("POINTS field %d does not match WIDTH*HEIGHT %d", header.points, header.width*header.height)
		}
	case "DATA":
		switch value {
		case "ascii":
			header.data = PCDAscii
		case "binary":
			header.data = PCDBinary
		case "binary_compressed":
			header.data = PCDCompressed
		default:
			return fmt.Errorf("unsupported pcd data type %s", value)
		}
	}
	if err != nil {
		return errors.Wrapf(err, "invalid %s field", name)
	}
	return nil
}

// ReadPCD reads a pcd file with x y z fields and an optional integer value field.
func ReadPCD(inRaw io.Reader) (PointCloud, error) {
	header := pcdHeader{}
	in := bufio.NewReader(inRaw)
	headerLineCount := 0
	for headerLineCount < len(pcdHeaderFields) {
		line, err := in.ReadString('\n')
		if err != nil {
			return nil, fmt.Errorf("error reading header line %d: %w", headerLineCount, err)
		}
		line, _, _ = strings.Cut(line, pcdCommentChar)
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if err := parsePCDHeaderLine(line, headerLineCount, &header); err != nil {
			return nil, err
		}
		headerLineCount++
	}
	switch header.data {
	case PCDAscii:
		return readPCDAscii(in, header)
	case PCDBinary:
		return readPCDBinary(in, header)
	default:
		return nil, errors.New("compressed pcd not yet supported")
	}
}

func readPCDAscii(in *bufio.Reader, header pcdHeader) (PointCloud, error) {
	pc := NewWithPrealloc(int(header.points))
	for i := 0; i < int(header.points); i++ {
		line, err := in.ReadString('\n')
		if err != nil && !(errors.Is(err, io.EOF) && line != "") {
			return nil, errors.Wrapf(err, "reading point %d", i)
		}
		tokens := strings.Fields(line)
		if len(tokens) != int(header.fields) {
			return nil, fmt.Errorf("unexpected number of fields in point %d", i)
		}
		point := make([]float64, len(tokens))
		for j, token := range tokens {
			point[j], err = strconv.ParseFloat(token, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid point %d field %s: %w", i, token, err)
			}
		}
		p, data := readSliceToPoint(point, header)
		if err := pc.Set(p, data); err != nil {
			return nil, err
		}
	}
	return pc, nil
}

func readPCDBinary(in *bufio.Reader, header pcdHeader) (PointCloud, error) {
	pc := NewWithPrealloc(int(header.points))
	buf := make([]byte, 4*int(header.fields))
	for i := 0; i < int(header.points); i++ {
		if _, err := io.ReadFull(in, buf); err != nil {
			return nil, errors.Wrapf(err, "reading point %d", i)
		}
		point := make([]float64, int(header.fields))
		for j := range point {
			bits := binary.LittleEndian.Uint32(buf[4*j : 4*j+4])
			if j < 3 {
				point[j] = readFloat(bits)
			} else {
				point[j] = float64(int32(bits))
			}
		}
		p, data := readSliceToPoint(point, header)
		if err := pc.Set(p, data); err != nil {
			return nil, err
		}
	}
	return pc, nil
}

// readFloat rounds float32 data to a tenth of a millimeter so identical points dedupe.
func readFloat(n uint32) float64 {
	f := float64(math.Float32frombits(n))
	return math.Round(f*10000) / 10000
}

func readSliceToPoint(slice []float64, header pcdHeader) (r3.Vector, Data) {
	p := r3.Vector{X: slice[0], Y: slice[1], Z: slice[2]}
	if header.fields == pcdPointValue {
		return p, NewValueData(int(slice[3]))
	}
	return p, NewBasicData()
}

// ToPCD writes the cloud in the ascii pcd format. Points with values are written with a fourth value field.
func ToPCD(cloud PointCloud, out io.Writer) error {
	meta := cloud.MetaData()
	fields, size, typ, count := "x y z", "4 4 4", "F F F", "1 1 1"
	if meta.HasValue {
		fields, size, typ, count = "x y z value", "4 4 4 4", "F F F I", "1 1 1 1"
	}
	w := bufio.NewWriter(out)
	if _, err := fmt.Fprintf(w,
		"VERSION .7\nFIELDS %s\nSIZE %s\nTYPE %s\nCOUNT %s\nWIDTH %d\nHEIGHT 1\nVIEWPOINT 0 0 0 1 0 0 0\nPOINTS %d\nDATA ascii\n",
		fields, size, typ, count, cloud.Size(), cloud.Size()); err != nil {
		return err
	}
	var err error
	cloud.Iterate(0, 0, func(p r3.Vector, d Data) bool {
		if meta.HasValue {
			_, err = fmt.Fprintf(w, "%f %f %f %d\n", p.X, p.Y, p.Z, dataValue(d))
		} else {
			_, err = fmt.Fprintf(w, "%f %f %f\n", p.X, p.Y, p.Z)
		}
		return err == nil
	})
	if err != nil {
		return err
	}
	return w.Flush()
}
