package eventlog

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/roach88/tandem/internal/event"
	"github.com/roach88/tandem/internal/world"
)

// ErrMalformedLine is returned by Parse for a line that does not follow
// the log layout.
var ErrMalformedLine = errors.New("malformed log line")

const headerFields = 5

// Field is one key/value argument of a log line. Object is set when the
// value was a flattened world.Object; Value then holds its GUID.
type Field struct {
	Key    string
	Value  string
	Object *world.Object
}

// Entry is a parsed log line.
type Entry struct {
	Wall       int64
	Simulation int64
	Loop       int64
	Originator event.PeerID
	Type       event.Type
	Fields     []Field
}

// Object returns the first object argument of the entry.
func (e Entry) Object() (world.Object, bool) {
	for _, f := range e.Fields {
		if f.Object != nil {
			return *f.Object, true
		}
	}
	return world.Object{}, false
}

// Field returns the raw value stored under key.
func (e Entry) Field(key string) (string, bool) {
	for _, f := range e.Fields {
		if f.Key == key {
			return f.Value, true
		}
	}
	return "", false
}

// Format renders ev as one log line without the trailing newline.
func Format(ev *event.Event) string {
	cols := []string{
		strconv.FormatInt(ev.TimeWall(), 10),
		strconv.FormatInt(ev.TimeSimulation(), 10),
		strconv.FormatInt(ev.TimeLoop(), 10),
		strconv.Itoa(int(ev.Originator())),
		ev.Type().String(),
	}
	for _, a := range ev.Args() {
		cols = append(cols, clean(a.Key))
		cols = append(cols, formatValue(a.Value)...)
	}
	return strings.Join(cols, "\t")
}

func formatValue(v any) []string {
	switch x := v.(type) {
	case world.Object:
		return formatObject(x)
	case *world.Object:
		return formatObject(*x)
	case string:
		return []string{clean(x)}
	case bool:
		return []string{strconv.FormatBool(x)}
	case int:
		return []string{strconv.Itoa(x)}
	case int64:
		return []string{strconv.FormatInt(x, 10)}
	case float64:
		return []string{formatFloat(x)}
	case fmt.Stringer:
		return []string{clean(x.String())}
	default:
		return []string{clean(fmt.Sprint(x))}
	}
}

func formatObject(o world.Object) []string {
	cols := []string{o.Kind.String(), o.GUID.String()}
	if o.Kind.HasPosition() {
		cols = append(cols, formatFloat(o.Pos.X), formatFloat(o.Pos.Y), strconv.FormatBool(o.Removed))
	}
	return cols
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// clean NFC-normalises s and replaces the separators it must not carry.
func clean(s string) string {
	s = norm.NFC.String(s)
	return strings.Map(func(r rune) rune {
		switch r {
		case '\t', '\n', '\r':
			return ' '
		}
		return r
	}, s)
}

// Parse reads one log line. A value that names an object kind starts a
// flattened object.
func Parse(line string) (Entry, error) {
	cols := strings.Split(strings.TrimRight(line, "\r\n"), "\t")
	if len(cols) < headerFields {
		return Entry{}, fmt.Errorf("%w: %d columns", ErrMalformedLine, len(cols))
	}

	var e Entry
	var err error
	if e.Wall, err = strconv.ParseInt(cols[0], 10, 64); err != nil {
		return Entry{}, fmt.Errorf("%w: wall: %v", ErrMalformedLine, err)
	}
	if e.Simulation, err = strconv.ParseInt(cols[1], 10, 64); err != nil {
		return Entry{}, fmt.Errorf("%w: simulation: %v", ErrMalformedLine, err)
	}
	if e.Loop, err = strconv.ParseInt(cols[2], 10, 64); err != nil {
		return Entry{}, fmt.Errorf("%w: loop: %v", ErrMalformedLine, err)
	}
	origin, err := strconv.Atoi(cols[3])
	if err != nil {
		return Entry{}, fmt.Errorf("%w: originator: %v", ErrMalformedLine, err)
	}
	e.Originator = event.PeerID(origin)
	if e.Type, err = event.ParseType(cols[4]); err != nil {
		return Entry{}, fmt.Errorf("%w: %v", ErrMalformedLine, err)
	}

	rest := cols[headerFields:]
	for len(rest) > 0 {
		if len(rest) < 2 {
			return Entry{}, fmt.Errorf("%w: key %q has no value", ErrMalformedLine, rest[0])
		}
		f := Field{Key: rest[0], Value: rest[1]}
		rest = rest[2:]

		if k, kerr := world.ParseKind(f.Value); kerr == nil && len(rest) > 0 {
			obj, n, oerr := parseObject(k, rest)
			if oerr != nil {
				return Entry{}, fmt.Errorf("%w: %s: %v", ErrMalformedLine, f.Key, oerr)
			}
			f.Value = obj.GUID.String()
			f.Object = &obj
			rest = rest[n:]
		}
		e.Fields = append(e.Fields, f)
	}
	return e, nil
}

// parseObject reads the columns after the kind. It returns the object and
// the number of columns consumed.
func parseObject(k world.Kind, cols []string) (world.Object, int, error) {
	guid, err := strconv.ParseInt(cols[0], 10, 64)
	if err != nil {
		return world.Object{}, 0, fmt.Errorf("guid: %w", err)
	}
	obj := world.Object{GUID: world.GUID(guid), Kind: k, Owner: world.NoOwner}
	if !k.HasPosition() {
		return obj, 1, nil
	}
	if len(cols) < 4 {
		return world.Object{}, 0, errors.New("truncated position")
	}
	if obj.Pos.X, err = strconv.ParseFloat(cols[1], 64); err != nil {
		return world.Object{}, 0, fmt.Errorf("x: %w", err)
	}
	if obj.Pos.Y, err = strconv.ParseFloat(cols[2], 64); err != nil {
		return world.Object{}, 0, fmt.Errorf("y: %w", err)
	}
	if obj.Removed, err = strconv.ParseBool(cols[3]); err != nil {
		return world.Object{}, 0, fmt.Errorf("removed: %w", err)
	}
	return obj, 4, nil
}
