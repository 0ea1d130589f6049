package fonts

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"
)

// sfntFile assembles a table directory followed by the table bodies.
func sfntFile(version string, tables map[string][]byte, order ...string) []byte {
	var buf bytes.Buffer
	buf.WriteString(version)
	binary.Write(&buf, binary.BigEndian, uint16(len(order)))
	buf.Write(make([]byte, 6))
	off := 12 + 16*len(order)
	for _, tag := range order {
		buf.WriteString(tag)
		binary.Write(&buf, binary.BigEndian, uint32(0))
		binary.Write(&buf, binary.BigEndian, uint32(off))
		binary.Write(&buf, binary.BigEndian, uint32(len(tables[tag])))
		off += len(tables[tag])
	}
	for _, tag := range order {
		buf.Write(tables[tag])
	}
	return buf.Bytes()
}

func TestTableDirectory(t *testing.T) {
	data := sfntFile("OTTO", map[string][]byte{"CFF ": []byte("abcd"), "name": []byte("xy")}, "CFF ", "name")
	dir, err := ParseOpenTypeTableDirectory(data)
	if err != nil {
		t.Fatal(err)
	}
	if len(dir) != 2 {
		t.Fatalf("tables = %v", dir)
	}
	cff := dir["CFF "]
	if cff.Offset != 44 || cff.Length != 4 {
		t.Errorf("CFF entry = %+v", cff)
	}
	body, err := ExtractTable(data, dir["name"])
	if err != nil || string(body) != "xy" {
		t.Errorf("name table = %q, %v", body, err)
	}
	if _, err := ExtractTable(data, OpenTypeTable{Tag: "bad ", Offset: 40, Length: 100}); err == nil {
		t.Error("out of bounds table extracted")
	}
	if !isOpenTypeCFF(data) {
		t.Error("OTTO file not detected as CFF")
	}
}

func TestTableDirectoryTruncated(t *testing.T) {
	for _, data := range [][]byte{
		nil,
		[]byte("OTTO"),
		sfntFile("true", map[string][]byte{"glyf": {1}}, "glyf")[:20],
	} {
		if _, err := ParseOpenTypeTableDirectory(data); err == nil {
			t.Errorf("% x: no error", data)
		}
	}
}

func TestSFNTTables(t *testing.T) {
	data := sfntFile("\x00\x01\x00\x00", map[string][]byte{"cmap": []byte("cmapdata"), "glyf": []byte("gl")}, "cmap", "glyf")
	table, err := sfntTables(data)
	if err != nil {
		t.Fatal(err)
	}
	if got := table("cmap"); string(got) != "cmapdata" {
		t.Errorf("cmap = %q", got)
	}
	if got := table("glyf"); string(got) != "gl" {
		t.Errorf("glyf = %q", got)
	}
	if got := table("loca"); got != nil {
		t.Errorf("missing table = %q", got)
	}
	if isOpenTypeCFF(data) {
		t.Error("TrueType file detected as CFF")
	}
}

func TestOpenTypeWithoutCFF(t *testing.T) {
	data := sfntFile("OTTO", map[string][]byte{"name": []byte("xy")}, "name")
	if _, err := openTypeCFF(data); !errors.Is(err, errCFF) {
		t.Errorf("err = %v, want errCFF", err)
	}
}
