package mongo

import (
    "testing"
    "time"

    "go.mongodb.org/mongo-driver/bson"
    "go.mongodb.org/mongo-driver/bson/primitive"

    "github.com/amirimatin/go-replmon/pkg/replset"
)

func mustRaw(t *testing.T, v any) bson.Raw {
    t.Helper()
    b, err := bson.Marshal(v)
    if err != nil { t.Fatalf("marshal: %v", err) }
    return bson.Raw(b)
}

func TestParseStatus_OptimeShapes(t *testing.T) {
    raw := mustRaw(t, bson.D{
        {Key: "set", Value: "rs0"},
        {Key: "date", Value: primitive.NewDateTimeFromTime(time.Unix(200, 0))},
        {Key: "members", Value: bson.A{
            bson.D{
                {Key: "name", Value: "db1:27017"},
                {Key: "stateStr", Value: "PRIMARY"},
                {Key: "optime", Value: bson.D{{Key: "ts", Value: primitive.Timestamp{T: 100, I: 3}}, {Key: "t", Value: int64(7)}}},
            },
            bson.D{
                {Key: "name", Value: "db2:27017"},
                {Key: "stateStr", Value: "SECONDARY"},
                {Key: "optime", Value: primitive.Timestamp{T: 95, I: 1}},
            },
            bson.D{
                {Key: "name", Value: "db3:27017"},
                {Key: "stateStr", Value: "SECONDARY"},
                {Key: "optimeDate", Value: primitive.NewDateTimeFromTime(time.Unix(50, 0))},
            },
            bson.D{
                {Key: "name", Value: "arb:27017"},
                {Key: "stateStr", Value: "ARBITER"},
            },
        }},
    })

    snap, err := parseStatus(raw)
    if err != nil { t.Fatalf("parse: %v", err) }
    if !snap.TakenAt.Equal(time.Unix(200, 0)) {
        t.Fatalf("takenAt = %v", snap.TakenAt)
    }
    want := []replset.MemberStatus{
        {Name: "db1:27017", State: "PRIMARY", Optime: time.Unix(100, 0).UTC()},
        {Name: "db2:27017", State: "SECONDARY", Optime: time.Unix(95, 0).UTC()},
        {Name: "db3:27017", State: "SECONDARY", Optime: time.Unix(50, 0).UTC()},
    }
    if len(snap.Members) != len(want) {
        t.Fatalf("members = %d, want %d (%+v)", len(snap.Members), len(want), snap.Members)
    }
    for i := range want {
        got := snap.Members[i]
        if got.Name != want[i].Name || got.State != want[i].State || !got.Optime.Equal(want[i].Optime) {
            t.Fatalf("member %d: got %+v want %+v", i, got, want[i])
        }
    }
}

func TestParseStatus_MissingMembers(t *testing.T) {
    if _, err := parseStatus(mustRaw(t, bson.D{{Key: "ok", Value: 1}})); err == nil {
        t.Fatalf("expected error for reply without members")
    }
}
