// Copyright 2024 The Erigon Authors
// This file is part of Erigon.
//
// Erigon is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Erigon is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with Erigon. If not, see <http://www.gnu.org/licenses/>.

package rpc

import (
	"encoding/json"
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBlockNumberJSONUnmarshal(t *testing.T) {
	tests := []struct {
		input    string
		mustFail bool
		expected BlockNumber
	}{
		0:  {`"0x"`, true, BlockNumber(0)},
		1:  {`"0x0"`, false, BlockNumber(0)},
		2:  {`"0X1"`, false, BlockNumber(1)},
		3:  {`"0x00"`, true, BlockNumber(0)},
		4:  {`"0x01"`, true, BlockNumber(0)},
		5:  {`"0x1"`, false, BlockNumber(1)},
		6:  {`"0x12"`, false, BlockNumber(18)},
		7:  {`"0x7fffffffffffffff"`, false, BlockNumber(0x7fffffffffffffff)},
		8:  {`"0x8000000000000000"`, true, BlockNumber(0)},
		9:  {"0", false, BlockNumber(0)},
		10: {`"ff"`, true, BlockNumber(0)},
		11: {`"pending"`, false, PendingBlockNumber},
		12: {`"latest"`, false, LatestBlockNumber},
		13: {`"earliest"`, false, EarliestBlockNumber},
		14: {`"safe"`, false, LatestBlockNumber},
		15: {`"finalized"`, false, LatestBlockNumber},
		16: {`someString`, true, BlockNumber(0)},
		17: {`""`, true, BlockNumber(0)},
		18: {``, true, BlockNumber(0)},
		19: {`"12"`, false, BlockNumber(12)},
	}

	for i, test := range tests {
		var num BlockNumber
		err := json.Unmarshal([]byte(test.input), &num)
		if test.mustFail {
			assert.Error(t, err, "test %d", i)
			continue
		}
		require.NoError(t, err, "test %d", i)
		assert.Equal(t, test.expected, num, "test %d", i)
	}
}

func TestBlockNumberString(t *testing.T) {
	assert.Equal(t, "latest", LatestBlockNumber.String())
	assert.Equal(t, "pending", PendingBlockNumber.String())
	assert.Equal(t, "earliest", EarliestBlockNumber.String())
	assert.Equal(t, "0x10", BlockNumber(16).String())
	assert.Equal(t, "<invalid -5>", BlockNumber(-5).String())
}

func TestDecimalOrHex(t *testing.T) {
	var v DecimalOrHex
	require.NoError(t, json.Unmarshal([]byte(`"0x10"`), &v))
	assert.Equal(t, DecimalOrHex(16), v)
	require.NoError(t, json.Unmarshal([]byte(`10`), &v))
	assert.Equal(t, DecimalOrHex(10), v)
	require.Error(t, json.Unmarshal([]byte(`"abc"`), &v))
}

func TestParsePositionalArguments(t *testing.T) {
	intType := reflect.TypeOf(0)
	ptrType := reflect.TypeOf(&echoArgs{})

	tests := []struct {
		name    string
		raw     string
		types   []reflect.Type
		wantLen int
		wantErr bool
	}{
		{"no params", ``, nil, 0, false},
		{"null params", `null`, nil, 0, false},
		{"empty array", `[]`, nil, 0, false},
		{"exact", `[1, 2]`, []reflect.Type{intType, intType}, 2, false},
		{"optional pointer", `[1]`, []reflect.Type{intType, ptrType}, 2, false},
		{"missing required", `[1]`, []reflect.Type{intType, intType}, 0, true},
		{"too many", `[1, 2]`, []reflect.Type{intType}, 0, true},
		{"object params", `{"a":1}`, []reflect.Type{intType}, 0, true},
		{"null for pointer", `[1, null]`, []reflect.Type{intType, ptrType}, 2, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args, err := parsePositionalArguments(json.RawMessage(tt.raw), tt.types)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Len(t, args, tt.wantLen)
		})
	}
}

func TestFormatName(t *testing.T) {
	assert.Equal(t, "echoWithCtx", formatName("EchoWithCtx"))
	assert.Equal(t, "", formatName(""))
}
