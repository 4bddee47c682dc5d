package permission

import (
	"testing"

	"crm-feed/internal/model"

	"github.com/stretchr/testify/assert"
)

func TestPolicy_CanDeleteComment(t *testing.T) {
	c := &model.Comment{ID: "c1", AuthorID: "u1"}
	var p Policy

	assert.True(t, p.CanDeleteComment(nil, c, "u1"))
	assert.False(t, p.CanDeleteComment(nil, c, "u2"))
	assert.True(t, p.CanDeleteComment([]string{DeleteAnyComment}, c, "u2"))
	assert.True(t, p.CanDeleteComment([]string{"feeds.read", Admin}, c, "u2"))
	assert.False(t, p.CanDeleteComment([]string{Admin}, c, ""))
	assert.False(t, p.CanDeleteComment([]string{Admin}, nil, "u1"))
}
