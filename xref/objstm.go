package xref

import (
	"bytes"
	"fmt"
	"strconv"
)

// ObjStmMember is one header pair of an object stream: the member's object
// number and its byte offset relative to /First.
type ObjStmMember struct {
	Num    int
	Offset int64
}

// ObjectStreamIndex parses the n integer pairs at the start of a decoded
// object stream. Offsets are returned absolute within data.
func ObjectStreamIndex(data []byte, n, first int) ([]ObjStmMember, error) {
	if n < 0 || first < 0 || first > len(data) {
		return nil, fmt.Errorf("object stream: invalid /N %d or /First %d", n, first)
	}
	fields := bytes.Fields(data[:first])
	if len(fields) < 2*n {
		return nil, fmt.Errorf("object stream: header has %d values, want %d", len(fields), 2*n)
	}
	members := make([]ObjStmMember, 0, n)
	for i := 0; i < n; i++ {
		num, err1 := strconv.Atoi(string(fields[2*i]))
		off, err2 := strconv.ParseInt(string(fields[2*i+1]), 10, 64)
		if err1 != nil || err2 != nil || num <= 0 || off < 0 {
			return nil, fmt.Errorf("object stream: bad header pair %d", i)
		}
		abs := int64(first) + off
		if abs > int64(len(data)) {
			return nil, fmt.Errorf("object stream: member %d offset %d past end", num, off)
		}
		members = append(members, ObjStmMember{Num: num, Offset: abs})
	}
	return members, nil
}
