package types

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// FlexibleNumber accepts a JSON string or a bare JSON integer and keeps its
// decimal text without going through float64.
type FlexibleNumber string

func (n *FlexibleNumber) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*n = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*n = FlexibleNumber(s)
		return nil
	}
	var num json.Number
	if err := json.Unmarshal(data, &num); err != nil {
		return fmt.Errorf("expected a string or integer, got %s", data)
	}
	*n = FlexibleNumber(num.String())
	return nil
}
