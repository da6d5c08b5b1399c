package bin

import (
	"encoding/json"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddrSet(t *testing.T) {
	golden := []struct {
		in   string
		want Addr
	}{
		{in: "0x401000", want: 0x401000},
		{in: "0X10", want: 0x10},
		{in: "4096", want: 4096},
		{in: "0x140001000", want: 0x140001000},
	}
	for _, g := range golden {
		var v Addr
		require.NoError(t, v.Set(g.in), g.in)
		assert.Equal(t, g.want, v, g.in)
	}
	var v Addr
	assert.Error(t, v.Set("0xZZ"))
}

func TestAddrString(t *testing.T) {
	assert.Equal(t, "0x00401000", Addr(0x401000).String())
	assert.Equal(t, "0x0000000140001000", Addr(0x140001000).String())
}

func TestAddrJSON(t *testing.T) {
	var addrs Addrs
	require.NoError(t, json.Unmarshal([]byte(`["0x2000", "0x1000"]`), &addrs))
	sort.Sort(addrs)
	assert.Equal(t, Addrs{0x1000, 0x2000}, addrs)
	buf, err := json.Marshal(addrs)
	require.NoError(t, err)
	assert.Equal(t, `["0x00001000","0x00002000"]`, string(buf))
}

func TestAddrWrap(t *testing.T) {
	assert.Equal(t, Addr(0xFFFFFFFF), Addr(0x1FFFFFFFF).Wrap(32))
	assert.Equal(t, Addr(0x1FFFFFFFF), Addr(0x1FFFFFFFF).Wrap(64))
}
