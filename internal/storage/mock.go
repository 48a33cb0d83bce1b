package storage

import (
	"bytes"
	"io"
)

// MockStorage is a mock implementation of Storage for testing
type MockStorage struct {
	PutFunc    func(appSlug string, version string, revisionNo int, filename string, data []byte) (string, error)
	StageFunc  func(data []byte) (string, error)
	ReadFunc   func(locator string) ([]byte, error)
	DeleteFunc func(locator string) error
}

func (m *MockStorage) Put(appSlug string, version string, revisionNo int, filename string, data []byte) (string, error) {
	if m.PutFunc != nil {
		return m.PutFunc(appSlug, version, revisionNo, filename, data)
	}
	return "", nil
}

func (m *MockStorage) Stage(data []byte) (string, error) {
	if m.StageFunc != nil {
		return m.StageFunc(data)
	}
	return "", nil
}

func (m *MockStorage) Read(locator string) ([]byte, error) {
	if m.ReadFunc != nil {
		return m.ReadFunc(locator)
	}
	return nil, nil
}

// Open serves whatever ReadFunc returns
func (m *MockStorage) Open(locator string) (io.ReadSeekCloser, int64, error) {
	data, err := m.Read(locator)
	if err != nil {
		return nil, 0, err
	}
	return nopSeekCloser{bytes.NewReader(data)}, int64(len(data)), nil
}

func (m *MockStorage) Delete(locator string) error {
	if m.DeleteFunc != nil {
		return m.DeleteFunc(locator)
	}
	return nil
}

type nopSeekCloser struct {
	*bytes.Reader
}

func (nopSeekCloser) Close() error { return nil }
