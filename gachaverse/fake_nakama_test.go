package gachaverse

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"

	"github.com/heroiclabs/nakama-common/api"
	"github.com/heroiclabs/nakama-common/runtime"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

// testNakamaModule is a test double for runtime.NakamaModule.
// Only implements the methods needed for the tests, with real conditional
// write semantics: "*" is create-only, a version string must match the
// stored version, "" always writes.
type testNakamaModule struct {
	runtime.NakamaModule
	sync.Mutex

	storageData map[string]*storedObject

	// failWrites maps a collection or collection:key to a count of writes
	// that should fail before succeeding again.
	failWrites map[string]int
}

type storedObject struct {
	value   string
	version int
}

func newTestNakama() *testNakamaModule {
	return &testNakamaModule{
		storageData: make(map[string]*storedObject),
		failWrites:  make(map[string]int),
	}
}

func formatStorageKey(collection, key, userID string) string {
	return collection + ":" + key + ":" + userID
}

// failNextWrites makes the next n writes matching target fail. The target is
// either a collection name or collection:key.
func (n *testNakamaModule) failNextWrites(target string, count int) {
	n.Lock()
	defer n.Unlock()
	n.failWrites[target] = count
}

func (n *testNakamaModule) shouldFailWrite(collection, key string) bool {
	for _, target := range []string{collection, collection + ":" + key} {
		if remaining, ok := n.failWrites[target]; ok && remaining > 0 {
			n.failWrites[target] = remaining - 1
			return true
		}
	}
	return false
}

// StorageRead implementation for testing
func (n *testNakamaModule) StorageRead(ctx context.Context, reads []*runtime.StorageRead) ([]*api.StorageObject, error) {
	n.Lock()
	defer n.Unlock()

	result := make([]*api.StorageObject, 0, len(reads))
	for _, read := range reads {
		stored, exists := n.storageData[formatStorageKey(read.Collection, read.Key, read.UserID)]
		if exists {
			result = append(result, &api.StorageObject{
				Collection:     read.Collection,
				Key:            read.Key,
				UserId:         read.UserID,
				Value:          stored.value,
				Version:        strconv.Itoa(stored.version),
				PermissionRead: 1,
			})
		}
	}
	return result, nil
}

// StorageWrite implementation for testing
func (n *testNakamaModule) StorageWrite(ctx context.Context, writes []*runtime.StorageWrite) ([]*api.StorageObjectAck, error) {
	n.Lock()
	defer n.Unlock()

	result := make([]*api.StorageObjectAck, 0, len(writes))
	for _, write := range writes {
		if n.shouldFailWrite(write.Collection, write.Key) {
			return nil, errors.New("injected storage write failure")
		}

		storageKey := formatStorageKey(write.Collection, write.Key, write.UserID)
		stored, exists := n.storageData[storageKey]
		switch write.Version {
		case "":
		case "*":
			if exists {
				return nil, errors.New("storage write rejected: object already exists")
			}
		default:
			if !exists || strconv.Itoa(stored.version) != write.Version {
				return nil, errors.New("storage write rejected: version mismatch")
			}
		}

		next := 1
		if exists {
			next = stored.version + 1
		}
		n.storageData[storageKey] = &storedObject{value: write.Value, version: next}
		result = append(result, &api.StorageObjectAck{
			Collection: write.Collection,
			Key:        write.Key,
			UserId:     write.UserID,
			Version:    strconv.Itoa(next),
		})
	}
	return result, nil
}

// StorageDelete implementation for testing
func (n *testNakamaModule) StorageDelete(ctx context.Context, deletes []*runtime.StorageDelete) error {
	n.Lock()
	defer n.Unlock()

	for _, del := range deletes {
		delete(n.storageData, formatStorageKey(del.Collection, del.Key, del.UserID))
	}
	return nil
}

// setObject seeds raw storage state, bypassing version checks.
func (n *testNakamaModule) setObject(collection, key, value string) {
	n.Lock()
	defer n.Unlock()

	storageKey := formatStorageKey(collection, key, "")
	version := 1
	if stored, ok := n.storageData[storageKey]; ok {
		version = stored.version + 1
	}
	n.storageData[storageKey] = &storedObject{value: value, version: version}
}

func (n *testNakamaModule) getObject(collection, key string) (string, bool) {
	n.Lock()
	defer n.Unlock()

	stored, ok := n.storageData[formatStorageKey(collection, key, "")]
	if !ok {
		return "", false
	}
	return stored.value, true
}

// mockLogger is a simple logger that implements runtime.Logger for testing.
type mockLogger struct{}

func (l *mockLogger) Debug(format string, v ...interface{})                   {}
func (l *mockLogger) Info(format string, v ...interface{})                    {}
func (l *mockLogger) Warn(format string, v ...interface{})                    {}
func (l *mockLogger) Error(format string, v ...interface{})                   {}
func (l *mockLogger) WithField(key string, v interface{}) runtime.Logger      { return l }
func (l *mockLogger) WithFields(fields map[string]interface{}) runtime.Logger { return l }
func (l *mockLogger) Fields() map[string]interface{}                          { return nil }

// zapTestLogger adapts a zaptest logger to runtime.Logger so failing tests
// surface the system's own log lines.
type zapTestLogger struct {
	s *zap.SugaredLogger
}

func newZapTestLogger(t *testing.T) runtime.Logger {
	return &zapTestLogger{s: zaptest.NewLogger(t).Sugar()}
}

func (l *zapTestLogger) Debug(format string, v ...interface{}) { l.s.Debugf(format, v...) }
func (l *zapTestLogger) Info(format string, v ...interface{})  { l.s.Infof(format, v...) }
func (l *zapTestLogger) Warn(format string, v ...interface{})  { l.s.Warnf(format, v...) }
func (l *zapTestLogger) Error(format string, v ...interface{}) { l.s.Errorf(format, v...) }
func (l *zapTestLogger) WithField(key string, v interface{}) runtime.Logger {
	return &zapTestLogger{s: l.s.With(key, v)}
}
func (l *zapTestLogger) WithFields(fields map[string]interface{}) runtime.Logger {
	logger := l.s
	for key, v := range fields {
		logger = logger.With(key, v)
	}
	return &zapTestLogger{s: logger}
}
func (l *zapTestLogger) Fields() map[string]interface{} { return nil }

// newTestGachaverse wires a full hub with every system against the defaults,
// without going through config files.
func newTestGachaverse() *gachaverseImpl {
	gv := &gachaverseImpl{
		systems: make(map[SystemType]System),
		limiter: NewWindowRateLimiter(nil),
	}

	systems := []System{
		NewNakamaLedgerSystem(&LedgerConfig{}),
		NewNakamaReactorSystem(&ReactorConfig{}),
		NewNakamaGachaSystem(&GachaConfig{}),
		NewNakamaCollectionSystem(&CollectionConfig{}),
		NewNakamaTradeSystem(&TradesConfig{}),
		NewNakamaClaimSystem(&ClaimsConfig{}),
	}
	for _, system := range systems {
		gv.systems[system.GetType()] = system
		if hubAware, ok := system.(interface{ SetGachaverse(Gachaverse) }); ok {
			hubAware.SetGachaverse(gv)
		}
	}
	return gv
}

const (
	testAddress      = "0x1111111111111111111111111111111111111111"
	testOtherAddress = "0x2222222222222222222222222222222222222222"
)
