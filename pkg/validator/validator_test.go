package validator

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsPushToken(t *testing.T) {
	tests := []struct {
		name  string
		token string
		want  bool
	}{
		{"expo token", "ExponentPushToken[xxxxxxxxxxxxxxxxxxxxxx]", true},
		{"expo alt prefix", "ExpoPushToken[abc-123_DEF]", true},
		{"native fcm token", strings.Repeat("a", 140) + ":APA91b" + strings.Repeat("Z", 10), true},
		{"too short opaque", strings.Repeat("a", 151), false},
		{"longest opaque", strings.Repeat("a", MaxPushTokenLength), true},
		{"too long opaque", strings.Repeat("a", MaxPushTokenLength+1), false},
		{"too long expo", "ExponentPushToken[" + strings.Repeat("a", MaxPushTokenLength) + "]", false},
		{"missing bracket", "ExponentPushToken[abc", false},
		{"empty brackets", "ExponentPushToken[]", false},
		{"spaces", "ExponentPushToken[abc def]", false},
		{"empty", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsPushToken(tt.token))
		})
	}
}

func TestIsExpoPushToken(t *testing.T) {
	assert.True(t, IsExpoPushToken("ExponentPushToken[abc]"))
	assert.False(t, IsExpoPushToken(strings.Repeat("a", 160)))
}

type sampleRequest struct {
	Token      string `json:"token" validate:"required,pushtoken"`
	DeviceType string `json:"device_type" validate:"omitempty,max=50"`
	Kind       string `json:"kind" validate:"required,oneof=post event"`
}

func TestStruct(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		errs := Struct(sampleRequest{Token: "ExponentPushToken[abc]", Kind: "post"})
		assert.False(t, errs.HasErrors())
	})

	t.Run("reports json field names", func(t *testing.T) {
		errs := Struct(sampleRequest{Token: "nope", DeviceType: strings.Repeat("x", 51), Kind: "page"})
		require.Len(t, errs, 3)

		byField := map[string]string{}
		for _, e := range errs {
			byField[e.Field] = e.Message
		}
		assert.Equal(t, "is not a valid push token", byField["token"])
		assert.Equal(t, "must be at most 50 characters", byField["device_type"])
		assert.Equal(t, "must be one of: post event", byField["kind"])
	})

	t.Run("required", func(t *testing.T) {
		errs := Struct(sampleRequest{Kind: "event"})
		require.Len(t, errs, 1)
		assert.Equal(t, "token: is required", errs.Error())
	})
}
