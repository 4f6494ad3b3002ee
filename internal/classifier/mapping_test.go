package classifier

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/vulnsentinel/vulnsentinel/internal/models"
)

func TestReduceLabel(t *testing.T) {
	tests := []struct {
		raw       string
		want      models.Classification
		wantKnown bool
	}{
		{"security_bugfix", models.ClassSecurityBugfix, true},
		{"Security Fix", models.ClassSecurityBugfix, true},
		{"vulnerability-fix", models.ClassSecurityBugfix, true},
		{"bugfix", models.ClassNormalBugfix, true},
		{"fix", models.ClassNormalBugfix, true},
		{"  normal_bugfix  ", models.ClassNormalBugfix, true},
		{"refactoring", models.ClassRefactor, true},
		{"performance", models.ClassRefactor, true},
		{"feat", models.ClassFeature, true},
		{"enhancement", models.ClassFeature, true},
		{"documentation", models.ClassOther, true},
		{"deps", models.ClassOther, true},
		{"other", models.ClassOther, true},
		{"quantum_entanglement", models.ClassOther, false},
		{"", models.ClassOther, false},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, known := ReduceLabel(tt.raw)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.wantKnown, known)
		})
	}
}
