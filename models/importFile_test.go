package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bitbucket.org/mmdatafocus/stocktake_backend/utils"
)

func TestDeviceLetterFromFileName(t *testing.T) {
	tests := []struct {
		fileName string
		letter   string
		ok       bool
	}{
		{"A-device1.txt", "A", true},
		{"b-scanner.txt", "B", true},
		{`C:\exports\C-7.txt`, "C", true},
		{"uploads/D-1.txt", "D", true},
		{"device1.txt", "", false},
		{"AB-1.txt", "", false},
		{"1-device.txt", "", false},
	}
	for _, tt := range tests {
		letter, err := DeviceLetterFromFileName(tt.fileName)
		if !tt.ok {
			assert.True(t, utils.IsValidation(err), tt.fileName)
			continue
		}
		require.NoError(t, err, tt.fileName)
		assert.Equal(t, tt.letter, letter, tt.fileName)
	}
}

func TestParseDeviceFile(t *testing.T) {
	content := "\xef\xbb\xbfApple,111,4,1.20,A251016001\r\n" +
		"\n" +
		"\"Pear, green\",222,\"2,5\",,A251016001\n"

	file, err := ParseDeviceFile("A-1.txt", []byte(content))
	require.NoError(t, err)
	assert.Equal(t, "A", file.Letter)
	require.Len(t, file.Rows, 2)

	assert.Equal(t, "Apple", file.Rows[0].Name)
	assert.Equal(t, "111", file.Rows[0].Code)
	assert.True(t, dec("4").Equal(file.Rows[0].Quantity))
	assert.True(t, dec("1.2").Equal(file.Rows[0].Price))
	assert.Equal(t, "A251016001", file.Rows[0].Sheet)

	assert.Equal(t, "Pear, green", file.Rows[1].Name)
	assert.True(t, dec("2.5").Equal(file.Rows[1].Quantity))
	assert.True(t, file.Rows[1].Price.IsZero())
	assert.Equal(t, 3, file.Rows[1].Line)
}

func TestParseDeviceFile_RejectsMalformedLines(t *testing.T) {
	for name, content := range map[string]string{
		"too few fields":   "Apple,111,4,A251016001\n",
		"bad quantity":     "Apple,111,x,1,A251016001\n",
		"bad price":        "Apple,111,1,y,A251016001\n",
		"missing quantity": "Apple,111,,1,A251016001\n",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := ParseDeviceFile("A-1.txt", []byte(content))
			require.Error(t, err)
			assert.True(t, utils.IsValidation(err))
		})
	}
}

func TestParseDeviceFile_Empty(t *testing.T) {
	file, err := ParseDeviceFile("A-1.txt", nil)
	require.NoError(t, err)
	assert.Empty(t, file.Rows)
}
