package ferrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetailedErrorComparesToSentinel(t *testing.T) {
	err := ErrFormatError.WithMessage("missing boot signature")
	assert.True(t, errors.Is(err, ErrFormatError))
	assert.False(t, errors.Is(err, ErrBadCluster))
	assert.Contains(t, err.Error(), "missing boot signature")
}

func TestDetailedErrorUnwrapsCause(t *testing.T) {
	cause := fmt.Errorf("short read")
	err := ErrFormatError.WrapError(cause)
	require.True(t, errors.Is(err, ErrFormatError))
	assert.Equal(t, cause, errors.Unwrap(err))
}

func TestTimeoutCommandErrorComparesToSentinel(t *testing.T) {
	cmdErr := &TimeoutCommandError{Command: 17, RetryLimit: 10}
	assert.True(t, errors.Is(cmdErr, ErrTimeoutCommand))
	assert.False(t, errors.Is(cmdErr, ErrTimeoutACommand))
	assert.Contains(t, cmdErr.Error(), "CMD17")

	acmdErr := &TimeoutCommandError{Command: 41, IsAppCmd: true, RetryLimit: 10}
	assert.True(t, errors.Is(acmdErr, ErrTimeoutACommand))
	assert.False(t, errors.Is(acmdErr, ErrTimeoutCommand))
	assert.Contains(t, acmdErr.Error(), "ACMD41")
}

func TestCrcErrorDetailComparesToSentinel(t *testing.T) {
	err := &CrcErrorDetail{Got: 0x1234, Calculated: 0x5678}
	assert.True(t, errors.Is(err, ErrCrcError))
	assert.False(t, errors.Is(err, ErrReadError))
}

func TestFilenameErrorKindStrings(t *testing.T) {
	assert.Equal(t, "InvalidCharacter", InvalidCharacter.String())
	assert.Equal(t, "MisplacedPeriod", MisplacedPeriod.String())
	err := &FilenameError{Kind: NameTooLong, Name: "TOOLONGNAME.TXT"}
	assert.Contains(t, err.Error(), "NameTooLong")
}
