package local

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"errors"
	"fmt"

	"github.com/creativeprojects/mailstore/mailbox"
)

func SerializeInt(value int) ([]byte, error) {
	buffer := &bytes.Buffer{}
	encoder := gob.NewEncoder(buffer)
	err := encoder.Encode(value)
	return buffer.Bytes(), err
}

func DeserializeInt(input []byte) (int, error) {
	output := 0
	decoder := gob.NewDecoder(bytes.NewBuffer(input))
	err := decoder.Decode(&output)
	return output, err
}

func SerializeObject[T any](data *T) ([]byte, error) {
	if data == nil {
		return nil, errors.New("cannot serialize nil object")
	}
	buffer := &bytes.Buffer{}
	encoder := gob.NewEncoder(buffer)
	err := encoder.Encode(data)
	return buffer.Bytes(), err
}

func DeserializeObject[T any](input []byte) (*T, error) {
	output := new(T)
	decoder := gob.NewDecoder(bytes.NewBuffer(input))
	err := decoder.Decode(&output)
	return output, err
}

// SerializeUID returns a big-endian key: the keys of a bucket are sorted by UID
func SerializeUID(uid mailbox.UID) []byte {
	key := make([]byte, 4)
	binary.BigEndian.PutUint32(key, uint32(uid))
	return key
}

func DeserializeUID(key []byte) (mailbox.UID, error) {
	if len(key) != 4 {
		return 0, fmt.Errorf("invalid uid key %x", key)
	}
	return mailbox.UID(binary.BigEndian.Uint32(key)), nil
}
