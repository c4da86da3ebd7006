package logging

import (
	"time"
)

// Common field constructors
func String(key, value string) Field {
	return Field{Key: key, Value: value}
}

func Int(key string, value int) Field {
	return Field{Key: key, Value: value}
}

func Int64(key string, value int64) Field {
	return Field{Key: key, Value: value}
}

func Float64(key string, value float64) Field {
	return Field{Key: key, Value: value}
}

func Bool(key string, value bool) Field {
	return Field{Key: key, Value: value}
}

func Duration(key string, value time.Duration) Field {
	return Field{Key: key, Value: value.String()}
}

func Error(err error) Field {
	if err == nil {
		return Field{Key: "error", Value: nil}
	}
	return Field{Key: "error", Value: err.Error()}
}

func Any(key string, value any) Field {
	return Field{Key: key, Value: value}
}

// Rail-domain helpers

func Component(name string) Field {
	return String("component", name)
}

func TrainID(id string) Field {
	return String("train_id", id)
}

func NodeID(id string) Field {
	return String("node_id", id)
}

// Resource takes anything with a String method so that callers can pass
// occupancy resources without this package importing them.
func Resource(r interface{ String() string }) Field {
	return String("resource", r.String())
}

func Aspect(a interface{ String() string }) Field {
	return String("aspect", a.String())
}

func Topic(t string) Field {
	return String("topic", t)
}

func Count(n int) Field {
	return Int("count", n)
}
