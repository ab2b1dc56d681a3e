package errors

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWithContext(t *testing.T) {
	assert.Nil(t, WithContext(nil, "read"))

	err := WithContext(WithContext(os.ErrNotExist, "open"), "read config")
	assert.EqualError(t, err, "read config: open: file does not exist")
	assert.True(t, Is(err, os.ErrNotExist))
	assert.Equal(t, os.ErrNotExist, RootCause(err))
}

func TestGetPrintableMessage(t *testing.T) {
	tests := []struct {
		name string
		err  error
		exp  string
	}{
		{
			name: "Plain",
			err:  WithContext(New("boom"), "sync"),
			exp:  "sync: boom",
		},
		{
			name: "Friendly",
			err:  WithContext(NewFriendlyError("The source %q is missing.", "/src"), "sync"),
			exp:  `The source "/src" is missing.`,
		},
	}

	for _, test := range tests {
		test := test
		t.Run(test.name, func(t *testing.T) {
			assert.Equal(t, test.exp, GetPrintableMessage(test.err))
		})
	}
}

func TestTypes(t *testing.T) {
	cause := New("permission denied")

	entryErr := WithContext(EntryError{Op: "copy", Path: "a/b.txt", Err: cause}, "reconcile")
	assert.EqualError(t, entryErr, `reconcile: copy "a/b.txt": permission denied`)
	assert.True(t, Is(entryErr, cause))

	var rootErr RootUnavailable
	err := WithContext(RootUnavailable{Role: "source", Path: "/src", Err: os.ErrNotExist}, "sync")
	assert.True(t, As(err, &rootErr))
	assert.Equal(t, "source", rootErr.Role)
	assert.True(t, Is(err, os.ErrNotExist))

	assert.EqualError(t, NotificationStreamError{}, "notification stream closed")
	assert.EqualError(t, NotificationStreamError{Err: cause},
		"notification stream: permission denied")
	assert.EqualError(t, FileNotFound{Path: "/src"}, `"/src" does not exist`)
}
