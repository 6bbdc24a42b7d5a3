package scanner

import (
	"bytes"
	"errors"
	"io"
	"strconv"

	"github.com/wudi/pdfdump/recovery"
)

type TokenType int

const (
	TokenDict    TokenType = iota // '<<'
	TokenArray                    // '['
	TokenName                     // '/Name'
	TokenString                   // literal or hex string
	TokenNumber                   // numeric value
	TokenBoolean                  // true/false
	TokenNull                     // null
	TokenRef                      // indirect ref '5 0 R'
	TokenStream                   // 'stream' keyword plus payload
	TokenKeyword                  // other keywords (obj, endobj, endstream, >>, ], etc.)
)

func (t TokenType) String() string {
	switch t {
	case TokenDict:
		return "dict"
	case TokenArray:
		return "array"
	case TokenName:
		return "name"
	case TokenString:
		return "string"
	case TokenNumber:
		return "number"
	case TokenBoolean:
		return "boolean"
	case TokenNull:
		return "null"
	case TokenRef:
		return "ref"
	case TokenStream:
		return "stream"
	case TokenKeyword:
		return "keyword"
	}
	return "unknown"
}

// Token is one lexical unit. Which fields are meaningful depends on Type:
// names and keywords use Str, numbers Int/Float/IsInt, refs Int/Gen,
// strings and stream payloads Bytes.
type Token struct {
	Type  TokenType
	Str   string
	Int   int64
	Float float64
	IsInt bool
	Bool  bool
	Gen   int
	Hex   bool
	Bytes []byte
	Pos   int64
}

type Scanner interface {
	Next() (Token, error)
	Position() int64
	SeekTo(offset int64) error
	SetNextStreamLength(n int64)
}

type Config struct {
	MaxNameLength   int
	MaxStringLength int64
	MaxArrayDepth   int
	MaxDictDepth    int
	MaxStreamLength int64
	MaxStreamScan   int64
	WindowSize      int64
	Recovery        recovery.Strategy
}

type ReaderAt interface {
	ReadAt(p []byte, off int64) (n int, err error)
}

var endstreamMarker = []byte("endstream")

// pdfScanner incrementally buffers PDF data from a ReaderAt in fixed-size windows.
type pdfScanner struct {
	reader        ReaderAt
	data          []byte
	pos           int64
	cfg           Config
	nextStreamLen int64
	chunkSize     int64
	eof           bool
	arrayDepth    int
	dictDepth     int
	recLoc        recovery.Location
}

// New returns a scanner that reads r lazily, one window at a time.
func New(r ReaderAt, cfg Config) Scanner {
	chunk := cfg.WindowSize
	if chunk <= 0 {
		chunk = 64 * 1024
	}
	return &pdfScanner{reader: r, cfg: cfg, nextStreamLen: -1, chunkSize: chunk}
}

func (s *pdfScanner) Position() int64 { return s.pos }

// SeekTo moves the cursor to offset and resets nesting state.
func (s *pdfScanner) SeekTo(offset int64) error {
	if offset < 0 {
		return errors.New("seek out of range")
	}
	if err := s.ensure(offset); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	if offset > int64(len(s.data)) {
		return errors.New("seek out of range")
	}
	s.pos = offset
	s.arrayDepth = 0
	s.dictDepth = 0
	s.nextStreamLen = -1
	return nil
}

func (s *pdfScanner) SetNextStreamLength(n int64)               { s.nextStreamLen = n }
func (s *pdfScanner) SetRecoveryLocation(loc recovery.Location) { s.recLoc = loc }

func (s *pdfScanner) Next() (Token, error) {
	for {
		tok, err := s.next()
		if errors.Is(err, errSkipToken) {
			continue
		}
		return tok, err
	}
}

var errSkipToken = errors.New("skip token")

func (s *pdfScanner) next() (Token, error) {
	if err := s.skipWSAndComments(); err != nil {
		return Token{}, err
	}
	start := s.pos
	c := s.data[s.pos]
	switch c {
	case '<':
		if s.peekAhead(1) == '<' {
			s.pos += 2
			return s.emit(Token{Type: TokenDict, Str: "<<", Pos: start})
		}
		return s.scanHexString()
	case '>':
		if s.peekAhead(1) == '>' {
			s.pos += 2
			return s.emit(Token{Type: TokenKeyword, Str: ">>", Pos: start})
		}
		s.pos++
		return Token{Type: TokenKeyword, Str: ">", Pos: start}, nil
	case '[':
		s.pos++
		return s.emit(Token{Type: TokenArray, Str: "[", Pos: start})
	case ']':
		s.pos++
		return s.emit(Token{Type: TokenKeyword, Str: "]", Pos: start})
	case '(':
		return s.scanLiteralString()
	case '/':
		return s.scanName()
	}
	if isDigitStart(c) {
		return s.scanNumberOrRef()
	}
	if isRegular(c) {
		return s.scanKeyword()
	}
	s.pos++
	return Token{Type: TokenKeyword, Str: string(c), Pos: start}, nil
}

func (s *pdfScanner) skipWSAndComments() error {
	for {
		if err := s.ensure(s.pos); err != nil {
			return err
		}
		c := s.data[s.pos]
		if isWhitespace(c) {
			s.pos++
			continue
		}
		if c == '%' {
			for {
				s.pos++
				if err := s.ensure(s.pos); err != nil {
					return err
				}
				if isEOL(s.data[s.pos]) {
					break
				}
			}
			continue
		}
		return nil
	}
}

// ensure makes data[n] addressable, returning io.EOF when the input ends first.
func (s *pdfScanner) ensure(n int64) error {
	for int64(len(s.data)) <= n {
		if s.eof {
			return io.EOF
		}
		if err := s.loadMore(); err != nil {
			return err
		}
	}
	return nil
}

func (s *pdfScanner) loadMore() error {
	buf := make([]byte, s.chunkSize)
	off := int64(len(s.data))
	n, err := s.reader.ReadAt(buf, off)
	if n > 0 {
		s.data = append(s.data, buf[:n]...)
	}
	if errors.Is(err, io.EOF) || (err == nil && n == 0) {
		s.eof = true
		return nil
	}
	return err
}

// readable reports whether data[n] exists, loading more input if needed.
func (s *pdfScanner) readable(n int64) (bool, error) {
	err := s.ensure(n)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, io.EOF) {
		return false, nil
	}
	return false, err
}

func (s *pdfScanner) scanName() (Token, error) {
	start := s.pos
	s.pos++ // '/'
	var out bytes.Buffer
	for {
		ok, err := s.readable(s.pos)
		if err != nil {
			return Token{}, err
		}
		if !ok {
			break
		}
		c := s.data[s.pos]
		if isDelimiter(c) {
			break
		}
		if c == '#' {
			if ok, _ := s.readable(s.pos + 2); ok && isHex(s.data[s.pos+1]) && isHex(s.data[s.pos+2]) {
				out.WriteByte(fromHex(s.data[s.pos+1])<<4 | fromHex(s.data[s.pos+2]))
				s.pos += 3
				continue
			}
		}
		out.WriteByte(c)
		s.pos++
		if s.cfg.MaxNameLength > 0 && out.Len() > s.cfg.MaxNameLength {
			return Token{}, errors.New("name too long")
		}
	}
	return Token{Type: TokenName, Str: out.String(), Pos: start}, nil
}

func (s *pdfScanner) scanLiteralString() (Token, error) {
	start := s.pos
	s.pos++ // '('
	var buf bytes.Buffer
	depth := 1
	for depth > 0 {
		ok, err := s.readable(s.pos)
		if err != nil {
			return Token{}, err
		}
		if !ok {
			break
		}
		c := s.data[s.pos]
		s.pos++
		switch c {
		case '\\':
			if err := s.scanEscape(&buf); err != nil {
				return Token{}, err
			}
			continue
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				continue
			}
		}
		buf.WriteByte(c)
		if s.cfg.MaxStringLength > 0 && int64(buf.Len()) > s.cfg.MaxStringLength {
			return Token{}, errors.New("literal string too long")
		}
	}
	if depth != 0 {
		if err := s.recover(errors.New("unterminated literal string"), "literal"); err != nil {
			return Token{}, err
		}
	}
	return Token{Type: TokenString, Bytes: buf.Bytes(), Pos: start}, nil
}

// scanEscape handles the byte(s) after a backslash inside a literal string.
func (s *pdfScanner) scanEscape(buf *bytes.Buffer) error {
	ok, err := s.readable(s.pos)
	if err != nil || !ok {
		return err
	}
	esc := s.data[s.pos]
	s.pos++
	switch {
	case esc == '\r':
		if ok, _ := s.readable(s.pos); ok && s.data[s.pos] == '\n' {
			s.pos++
		}
	case esc == '\n':
	case esc >= '0' && esc <= '7':
		val := int(esc - '0')
		for k := 0; k < 2; k++ {
			ok, err := s.readable(s.pos)
			if err != nil {
				return err
			}
			if !ok || s.data[s.pos] < '0' || s.data[s.pos] > '7' {
				break
			}
			val = val<<3 + int(s.data[s.pos]-'0')
			s.pos++
		}
		buf.WriteByte(byte(val))
	default:
		buf.WriteByte(translateEscape(esc))
	}
	return nil
}

func (s *pdfScanner) scanHexString() (Token, error) {
	start := s.pos
	s.pos++ // '<'
	var hexbuf []byte
	closed := false
	for {
		ok, err := s.readable(s.pos)
		if err != nil {
			return Token{}, err
		}
		if !ok {
			break
		}
		c := s.data[s.pos]
		s.pos++
		if c == '>' {
			closed = true
			break
		}
		if isWhitespace(c) {
			continue
		}
		hexbuf = append(hexbuf, c)
	}
	if !closed {
		if err := s.recover(errors.New("unterminated hex string"), "hex"); err != nil {
			return Token{}, err
		}
	}
	if len(hexbuf)%2 == 1 {
		hexbuf = append(hexbuf, '0')
	}
	if s.cfg.MaxStringLength > 0 && int64(len(hexbuf)/2) > s.cfg.MaxStringLength {
		return Token{}, errors.New("hex string too long")
	}
	out := make([]byte, 0, len(hexbuf)/2)
	for i := 0; i < len(hexbuf); i += 2 {
		out = append(out, fromHex(hexbuf[i])<<4|fromHex(hexbuf[i+1]))
	}
	return Token{Type: TokenString, Hex: true, Bytes: out, Pos: start}, nil
}

// scanStream reads the payload after the 'stream' keyword. A length hint set
// with SetNextStreamLength is trusted only when 'endstream' follows it;
// otherwise the payload runs up to the next 'endstream' marker.
func (s *pdfScanner) scanStream(start int64) (Token, error) {
	hint := s.nextStreamLen
	s.nextStreamLen = -1

	ok, err := s.readable(s.pos)
	if err != nil {
		return Token{}, err
	}
	switch {
	case ok && s.data[s.pos] == '\r':
		s.pos++
		if ok, _ := s.readable(s.pos); ok && s.data[s.pos] == '\n' {
			s.pos++
		}
	case ok && s.data[s.pos] == '\n':
		s.pos++
	default:
		if err := s.recover(errors.New("stream missing EOL before data"), "stream"); err != nil {
			return Token{}, err
		}
		if ok && s.data[s.pos] == ' ' {
			s.pos++
		}
	}
	dataStart := s.pos

	if hint >= 0 {
		if s.cfg.MaxStreamLength > 0 && hint > s.cfg.MaxStreamLength {
			return Token{}, errors.New("stream too long")
		}
		end := dataStart + hint
		if _, err := s.readable(end + int64(len(endstreamMarker)) + 2); err != nil {
			return Token{}, err
		}
		if end > int64(len(s.data)) {
			if err := s.recover(errors.New("stream ended before declared length"), "stream"); err != nil {
				return Token{}, err
			}
			s.pos = int64(len(s.data))
			return Token{Type: TokenStream, Bytes: append([]byte(nil), s.data[dataStart:]...), Pos: start}, nil
		}
		if after, found := s.endstreamAt(end); found {
			payload := append([]byte(nil), s.data[dataStart:end]...)
			s.pos = after
			return Token{Type: TokenStream, Bytes: payload, Pos: start}, nil
		}
		if err := s.recover(errors.New("declared stream length does not reach endstream"), "stream"); err != nil {
			return Token{}, err
		}
	}
	return s.scanToEndstream(start, dataStart)
}

// endstreamAt reports whether 'endstream' follows offset end after an
// optional EOL, returning the offset just past the marker.
func (s *pdfScanner) endstreamAt(end int64) (int64, bool) {
	p := end
	if p < int64(len(s.data)) && s.data[p] == '\r' {
		p++
	}
	if p < int64(len(s.data)) && s.data[p] == '\n' {
		p++
	}
	stop := p + int64(len(endstreamMarker))
	if stop <= int64(len(s.data)) && bytes.Equal(s.data[p:stop], endstreamMarker) {
		return stop, true
	}
	return 0, false
}

func (s *pdfScanner) scanToEndstream(start, dataStart int64) (Token, error) {
	idx := int64(-1)
	for i := dataStart; ; i++ {
		ok, err := s.readable(i + int64(len(endstreamMarker)) - 1)
		if err != nil {
			return Token{}, err
		}
		if !ok {
			break
		}
		if s.cfg.MaxStreamScan > 0 && i-dataStart > s.cfg.MaxStreamScan {
			if err := s.recover(errors.New("endstream not found within scan limit"), "stream"); err != nil {
				return Token{}, err
			}
			break
		}
		if s.data[i] != 'e' || !bytes.Equal(s.data[i:i+int64(len(endstreamMarker))], endstreamMarker) {
			continue
		}
		after := i + int64(len(endstreamMarker))
		followOK := after >= int64(len(s.data)) || isDelimiter(s.data[after])
		if followOK && hasStreamBreakBefore(s.data, i, dataStart) {
			idx = i
			break
		}
	}
	if idx == -1 {
		payload := append([]byte(nil), s.data[dataStart:]...)
		if err := s.recover(errors.New("endstream not found"), "stream"); err != nil {
			return Token{}, err
		}
		s.pos = int64(len(s.data))
		return Token{Type: TokenStream, Bytes: payload, Pos: start}, nil
	}
	end := idx
	if end > dataStart && s.data[end-1] == '\n' {
		end--
	}
	if end > dataStart && s.data[end-1] == '\r' {
		end--
	}
	payload := append([]byte(nil), s.data[dataStart:end]...)
	if s.cfg.MaxStreamLength > 0 && int64(len(payload)) > s.cfg.MaxStreamLength {
		return Token{}, errors.New("stream too long")
	}
	s.pos = idx + int64(len(endstreamMarker))
	return Token{Type: TokenStream, Bytes: payload, Pos: start}, nil
}

func (s *pdfScanner) peekAhead(n int64) byte {
	if ok, _ := s.readable(s.pos + n); !ok {
		return 0
	}
	return s.data[s.pos+n]
}

func (s *pdfScanner) scanKeyword() (Token, error) {
	start := s.pos
	for {
		ok, err := s.readable(s.pos)
		if err != nil {
			return Token{}, err
		}
		if !ok || isDelimiter(s.data[s.pos]) {
			break
		}
		s.pos++
	}
	kw := string(s.data[start:s.pos])
	switch kw {
	case "true", "false":
		return Token{Type: TokenBoolean, Bool: kw == "true", Str: kw, Pos: start}, nil
	case "null":
		return Token{Type: TokenNull, Str: kw, Pos: start}, nil
	case "stream":
		return s.scanStream(start)
	}
	return Token{Type: TokenKeyword, Str: kw, Pos: start}, nil
}

func (s *pdfScanner) scanNumberOrRef() (Token, error) {
	start := s.pos
	num1 := s.scanNumberString()
	if num1 == "" {
		s.pos++
		return Token{Type: TokenKeyword, Str: string(s.data[start]), Pos: start}, nil
	}
	if isUnsignedInt(num1) {
		if tok, ok := s.tryRef(start, num1); ok {
			return tok, nil
		}
	}
	if i, err := strconv.ParseInt(num1, 10, 64); err == nil {
		return Token{Type: TokenNumber, Int: i, IsInt: true, Str: num1, Pos: start}, nil
	}
	f, err := strconv.ParseFloat(normalizeReal(num1), 64)
	if err != nil {
		if err := s.recover(errors.New("invalid number "+strconv.Quote(num1)), "number"); err != nil {
			return Token{}, err
		}
	}
	return Token{Type: TokenNumber, Float: f, Str: num1, Pos: start}, nil
}

// tryRef looks ahead for "<gen> R" after an object number. The cursor is
// restored when the lookahead does not form a reference.
func (s *pdfScanner) tryRef(start int64, num1 string) (Token, bool) {
	save := s.pos
	if err := s.skipWSAndComments(); err != nil {
		s.pos = save
		return Token{}, false
	}
	num2 := s.scanNumberString()
	if num2 == "" || !isUnsignedInt(num2) {
		s.pos = save
		return Token{}, false
	}
	if err := s.skipWSAndComments(); err != nil || s.data[s.pos] != 'R' {
		s.pos = save
		return Token{}, false
	}
	if ok, _ := s.readable(s.pos + 1); ok && !isDelimiter(s.data[s.pos+1]) {
		s.pos = save
		return Token{}, false
	}
	s.pos++
	n, err1 := strconv.ParseInt(num1, 10, 64)
	g, err2 := strconv.Atoi(num2)
	if err1 != nil || err2 != nil {
		s.pos = save
		return Token{}, false
	}
	return Token{Type: TokenRef, Int: n, Gen: g, IsInt: true, Pos: start}, true
}

func (s *pdfScanner) scanNumberString() string {
	start := s.pos
	seenDigit := false
	for {
		ok, _ := s.readable(s.pos)
		if !ok {
			break
		}
		c := s.data[s.pos]
		if c == '+' || c == '-' || c == '.' || isDigit(c) {
			if isDigit(c) {
				seenDigit = true
			}
			s.pos++
			continue
		}
		break
	}
	if !seenDigit {
		s.pos = start
		return ""
	}
	return string(s.data[start:s.pos])
}

// recover consults the recovery strategy. A nil return means the caller
// may continue with its best-effort result.
func (s *pdfScanner) recover(err error, loc string) error {
	if s.cfg.Recovery == nil {
		return err
	}
	location := s.recLoc
	location.ByteOffset = s.pos
	if location.Component != "" {
		location.Component += "->"
	}
	location.Component += "scanner:" + loc
	switch s.cfg.Recovery.OnError(nil, err, location) {
	case recovery.ActionSkip, recovery.ActionFix, recovery.ActionWarn:
		return nil
	}
	return err
}

func (s *pdfScanner) emit(tok Token) (Token, error) {
	switch tok.Type {
	case TokenArray:
		s.arrayDepth++
		if s.cfg.MaxArrayDepth > 0 && s.arrayDepth > s.cfg.MaxArrayDepth {
			return Token{}, errors.New("array depth exceeded")
		}
	case TokenDict:
		s.dictDepth++
		if s.cfg.MaxDictDepth > 0 && s.dictDepth > s.cfg.MaxDictDepth {
			return Token{}, errors.New("dict depth exceeded")
		}
	case TokenKeyword:
		switch tok.Str {
		case "]":
			if s.arrayDepth == 0 {
				if err := s.recover(errors.New("array depth underflow"), "array"); err != nil {
					return Token{}, err
				}
				return Token{}, errSkipToken
			}
			s.arrayDepth--
		case ">>":
			if s.dictDepth == 0 {
				if err := s.recover(errors.New("dict depth underflow"), "dict"); err != nil {
					return Token{}, err
				}
				return Token{}, errSkipToken
			}
			s.dictDepth--
		}
	}
	return tok, nil
}

// hasStreamBreakBefore reports whether the byte before i is a line break or
// whitespace, making i a safe candidate for an endstream marker.
func hasStreamBreakBefore(data []byte, i, dataStart int64) bool {
	if i == dataStart {
		return true
	}
	return isWhitespace(data[i-1])
}

func isUnsignedInt(s string) bool {
	for i := 0; i < len(s); i++ {
		if !isDigit(s[i]) {
			return false
		}
	}
	return s != ""
}

// normalizeReal fixes forms like "-.5" and "1." that ParseFloat accepts
// anyway, and collapses the "--5" some writers emit.
func normalizeReal(s string) string {
	for len(s) > 1 && (s[0] == '-' || s[0] == '+') && (s[1] == '-' || s[1] == '+') {
		s = s[1:]
	}
	return s
}

func isDigit(c byte) bool      { return c >= '0' && c <= '9' }
func isDigitStart(c byte) bool { return c == '+' || c == '-' || c == '.' || isDigit(c) }
func isRegular(c byte) bool    { return !isDelimiter(c) }
func isHex(c byte) bool {
	return isDigit(c) || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}

func isWhitespace(c byte) bool {
	return c == 0x00 || c == 0x09 || c == 0x0A || c == 0x0C || c == 0x0D || c == 0x20
}
func isEOL(c byte) bool { return c == '\r' || c == '\n' }
func isDelimiter(c byte) bool {
	switch c {
	case '(', ')', '<', '>', '[', ']', '{', '}', '/', '%':
		return true
	default:
		return isWhitespace(c)
	}
}

func fromHex(c byte) byte {
	switch {
	case c >= '0' && c <= '9':
		return c - '0'
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10
	default:
		return 0
	}
}

func translateEscape(c byte) byte {
	switch c {
	case 'n':
		return '\n'
	case 'r':
		return '\r'
	case 't':
		return '\t'
	case 'b':
		return '\b'
	case 'f':
		return '\f'
	default:
		return c
	}
}
