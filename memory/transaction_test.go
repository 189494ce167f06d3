package memory

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransaction_TerminalOnce(t *testing.T) {
	tran := NewTransaction(0x100, make([]byte, 4), 4, Write, time.Second)
	assert.False(t, tran.IsDone())

	done, err := tran.Result()
	assert.False(t, done)
	assert.NoError(t, err)

	assert.True(t, tran.Done())
	assert.False(t, tran.Errorf("late failure %d", 1))
	assert.False(t, tran.Fail(errors.New("later")))

	done, err = tran.Result()
	assert.True(t, done)
	assert.NoError(t, err)
	assert.NoError(t, tran.Err())

	select {
	case <-tran.Finished():
	default:
		t.Fatal("finished channel not closed")
	}
}

func TestTransaction_ErrorfWraps(t *testing.T) {
	tran := NewTransaction(0, nil, 4, Read, 0)

	assert.True(t, tran.Errorf("%w: slave busy", ErrUnsupported))
	assert.False(t, tran.Done())

	require.Error(t, tran.Err())
	assert.ErrorIs(t, tran.Err(), ErrUnsupported)
	assert.Equal(t, "memory: transaction not supported: slave busy", tran.Err().Error())
}

func TestTransaction_ConcurrentFinish(t *testing.T) {
	tran := NewTransaction(0, nil, 4, Read, 0)

	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := 0
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			var ok bool
			if i%2 == 0 {
				ok = tran.Done()
			} else {
				ok = tran.Fail(ErrUnsupported)
			}
			if ok {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, winners)
	assert.True(t, tran.IsDone())
}

func TestTransaction_LockUnlockIdempotent(t *testing.T) {
	tran := NewTransaction(0, make([]byte, 8), 8, Write, 0)

	lock := tran.Lock()
	lock.Unlock()
	lock.Unlock()

	// the lock is free again
	second := tran.Lock()
	second.Unlock()
}

func TestTransaction_DataClampedToSize(t *testing.T) {
	tran := NewTransaction(0, make([]byte, 16), 8, Read, 0)

	lock := tran.Lock()
	defer lock.Unlock()
	assert.Len(t, tran.Data(), 8)
}

func TestTransaction_ChildSharesParentLock(t *testing.T) {
	parent := NewTransaction(0, make([]byte, 8), 8, Write, 0)
	child := newTransaction(0, 0, parent.data[:4], 4, Write, 0)
	child.parent = parent

	lock := child.Lock()
	acquired := make(chan struct{})
	go func() {
		l := parent.Lock()
		close(acquired)
		l.Unlock()
	}()

	select {
	case <-acquired:
		t.Fatal("parent lock acquired while child holds it")
	case <-time.After(20 * time.Millisecond):
	}

	lock.Unlock()
	<-acquired
}

func TestTransaction_Expired(t *testing.T) {
	parent := NewTransaction(0, make([]byte, 8), 8, Read, 0)
	child := newTransaction(0, 0, parent.data[:4], 4, Read, 0)
	child.parent = parent

	assert.False(t, child.Expired())
	parent.Fail(ErrTransactionTimeout)
	assert.True(t, child.Expired())
	assert.False(t, child.IsDone())
}

func TestTransactionType_String(t *testing.T) {
	tests := []struct {
		typ     TransactionType
		name    string
		isWrite bool
		valid   bool
	}{
		{Read, "read", false, true},
		{Write, "write", true, true},
		{Post, "post", true, true},
		{Verify, "verify", false, true},
		{TransactionType(9), "unknown(9)", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.name, tt.typ.String())
			assert.Equal(t, tt.isWrite, tt.typ.IsWrite())
			assert.Equal(t, tt.valid, tt.typ.Valid())
		})
	}
}
