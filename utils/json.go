package utils

import (
	"encoding/json"
)

// MarshalToJSON is used for the parsed copy kept next to each raw import file.
func MarshalToJSON[T any](input T) (string, error) {
	jsonData, err := json.Marshal(input)
	if err != nil {
		return "", err
	}
	return string(jsonData), nil
}
