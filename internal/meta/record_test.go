package meta

import (
	"encoding/json"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordAddGet(t *testing.T) {
	r := NewRecord()

	require.NoError(t, r.Add("owner", String("alice")))
	require.NoError(t, r.Add("size", Number(42)))

	v, err := r.Get("owner")
	require.NoError(t, err)
	s, ok := v.Str()
	assert.True(t, ok)
	assert.Equal(t, "alice", s)

	// Add overwrites silently
	require.NoError(t, r.Add("owner", String("bob")))
	v, err = r.Get("owner")
	require.NoError(t, err)
	assert.Equal(t, "bob", v.String())
	assert.Equal(t, 2, r.Len())
}

func TestRecordRejectsEmpty(t *testing.T) {
	r := NewRecord()

	tests := []struct {
		name  string
		key   string
		value Value
	}{
		{name: "empty key", key: "", value: String("x")},
		{name: "zero value", key: "k", value: Value{}},
		{name: "empty string", key: "k", value: String("")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, r.Add(tt.key, tt.value), ErrInvalidArgument)
		})
	}
	assert.Equal(t, 0, r.Len())
}

func TestRecordRejectsNonFiniteNumbers(t *testing.T) {
	r := NewRecord()

	for _, f := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		assert.ErrorIs(t, r.Add("score", Number(f)), ErrInvalidArgument)
	}
	assert.ErrorIs(t, r.AddAll(map[string]Value{"ok": Number(1), "bad": Number(math.NaN())}), ErrInvalidArgument)
	assert.Equal(t, 0, r.Len())

	require.NoError(t, r.Add("score", Number(1)))
	assert.ErrorIs(t, r.Update("score", Number(math.Inf(1))), ErrInvalidArgument)

	_, err := json.Marshal(r)
	assert.NoError(t, err)
}

func TestRecordMissingKey(t *testing.T) {
	r := NewRecord()

	_, err := r.Get("missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, r.Update("missing", String("v")), ErrNotFound)
	assert.ErrorIs(t, r.Delete("missing"), ErrNotFound)

	_, err = r.Get("")
	assert.ErrorIs(t, err, ErrInvalidArgument)
	assert.ErrorIs(t, r.Delete(""), ErrInvalidArgument)
}

func TestRecordUpdateDelete(t *testing.T) {
	r := NewRecord()
	require.NoError(t, r.Add("flag", Bool(false)))

	require.NoError(t, r.Update("flag", Bool(true)))
	v, err := r.Get("flag")
	require.NoError(t, err)
	b, ok := v.BoolVal()
	assert.True(t, ok)
	assert.True(t, b)

	require.NoError(t, r.Delete("flag"))
	_, err = r.Get("flag")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRecordAddAllIsAllOrNothing(t *testing.T) {
	r := NewRecord()
	require.NoError(t, r.Add("a", String("1")))

	err := r.AddAll(map[string]Value{"a": String("2"), "": String("bad")})
	assert.ErrorIs(t, err, ErrInvalidArgument)

	v, err := r.Get("a")
	require.NoError(t, err)
	assert.Equal(t, "1", v.String())

	require.NoError(t, r.AddAll(map[string]Value{"a": String("2"), "b": Number(3)}))
	assert.Equal(t, 2, r.Len())
}

func TestRecordAllIsSnapshot(t *testing.T) {
	r := NewRecord()
	require.NoError(t, r.Add("k", String("v")))

	snap := r.All()
	snap["other"] = String("x")
	require.NoError(t, r.Add("later", String("y")))

	assert.Len(t, snap, 2)
	assert.Equal(t, 2, r.Len())
	_, err := r.Get("other")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRecordJSON(t *testing.T) {
	r := NewRecord()
	require.NoError(t, r.AddAll(map[string]Value{
		"name":    String("cat"),
		"width":   Number(640),
		"private": Bool(true),
	}))

	data, err := json.Marshal(r)
	require.NoError(t, err)

	var decoded map[string]Value
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, r.All(), decoded)
}

func TestValueUnmarshalRejectsNull(t *testing.T) {
	var decoded map[string]Value
	err := json.Unmarshal([]byte(`{"k": null}`), &decoded)
	assert.ErrorIs(t, err, ErrInvalidArgument)

	err = json.Unmarshal([]byte(`{"k": {"nested": 1}}`), &decoded)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestValueString(t *testing.T) {
	assert.Equal(t, "1.5", Number(1.5).String())
	assert.Equal(t, "true", Bool(true).String())
	assert.Equal(t, "<invalid>", Value{}.String())
	assert.Equal(t, KindNumber, Number(1).Kind())
	assert.Equal(t, "bool", KindBool.String())
}

func TestRecordConcurrentAccess(t *testing.T) {
	r := NewRecord()
	var wg sync.WaitGroup

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_ = r.Add("shared", Number(float64(i*j)))
				_ = r.All()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, r.Len())
}
