package mgmt

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// ID is a management API identifier, the appliance serves it either as a JSON string or a number
type ID string

func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("id must be a string or a number, got %s", string(data))
	}
	*id = ID(n.String())
	return nil
}

func (id ID) String() string {
	return string(id)
}

// User - entry of the users list
type User struct {
	ID   ID     `json:"id"`
	Name string `json:"name"`
}

// S3Key - S3 key pair of a user, the API returns a list in case more than one pair per user is allowed
type S3Key struct {
	AuthID    string `json:"auth_id"`
	SecretKey string `json:"secret_key"`
}

// Credentials - result of the user + key lookup
type Credentials struct {
	User User
	Key  S3Key
}

// every GET response carries its payload under a root "data"
type envelope[T any] struct {
	Data *[]T `json:"data"`
}
