package scoring

import (
	"testing"

	"github.com/matchpulse/matchpulse/internal/session"
)

func TestShouldPush(t *testing.T) {
	d := Detector{Epsilon: 0.01, NotableDelta: 3.0}

	base := session.View{
		TeamTotal:         50.0,
		OpponentTotal:     40.0,
		TeamProjected:     90.0,
		OpponentProjected: 85.0,
	}

	tests := []struct {
		name      string
		last      *session.View
		next      session.View
		wantPush  bool
		wantClass AlertClass
	}{
		{
			name:      "first push always goes out",
			last:      nil,
			next:      base,
			wantPush:  true,
			wantClass: AlertSilent,
		},
		{
			name:      "identical view stays silent",
			last:      &base,
			next:      base,
			wantPush:  false,
			wantClass: AlertSilent,
		},
		{
			name: "sub-epsilon drift stays silent",
			last: &base,
			next: func() session.View {
				v := base
				v.TeamTotal += 0.005
				v.OpponentProjected -= 0.009
				return v
			}(),
			wantPush:  false,
			wantClass: AlertSilent,
		},
		{
			name: "team total change pushes",
			last: &base,
			next: func() session.View {
				v := base
				v.TeamTotal += 1.5
				return v
			}(),
			wantPush:  true,
			wantClass: AlertSilent,
		},
		{
			name: "opponent projection change pushes",
			last: &base,
			next: func() session.View {
				v := base
				v.OpponentProjected -= 2.0
				return v
			}(),
			wantPush:  true,
			wantClass: AlertSilent,
		},
		{
			name: "new top performer pushes",
			last: &base,
			next: func() session.View {
				v := base
				v.TopPerformer = &session.Performer{PlayerID: "p1", Delta: 1.0}
				return v
			}(),
			wantPush:  true,
			wantClass: AlertSilent,
		},
		{
			name: "big performer delta escalates to notable",
			last: &base,
			next: func() session.View {
				v := base
				v.TeamTotal += 6.0
				v.TopPerformer = &session.Performer{PlayerID: "p1", Delta: 6.0}
				return v
			}(),
			wantPush:  true,
			wantClass: AlertNotable,
		},
		{
			name: "performer delta at threshold stays silent class",
			last: &base,
			next: func() session.View {
				v := base
				v.TeamTotal += 3.0
				v.TopPerformer = &session.Performer{PlayerID: "p1", Delta: 3.0}
				return v
			}(),
			wantPush:  true,
			wantClass: AlertSilent,
		},
		{
			name: "first push with big delta is notable",
			last: nil,
			next: func() session.View {
				v := base
				v.TopPerformer = &session.Performer{PlayerID: "p1", Delta: 5.5}
				return v
			}(),
			wantPush:  true,
			wantClass: AlertNotable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotPush, gotClass := d.ShouldPush(tt.last, tt.next)
			if gotPush != tt.wantPush {
				t.Errorf("ShouldPush() push = %v, want %v", gotPush, tt.wantPush)
			}
			if gotClass != tt.wantClass {
				t.Errorf("ShouldPush() class = %v, want %v", gotClass, tt.wantClass)
			}
		})
	}
}

func TestShouldPush_PerformerIdentitySwap(t *testing.T) {
	d := Detector{Epsilon: 0.01, NotableDelta: 3.0}

	last := session.View{
		TeamTotal:    50.0,
		TopPerformer: &session.Performer{PlayerID: "p1", Delta: 2.0},
	}
	next := last
	next.TopPerformer = &session.Performer{PlayerID: "p2", Delta: 2.0}

	// Same delta, different player: still a visible change.
	push, class := d.ShouldPush(&last, next)
	if !push {
		t.Error("Expected push on performer identity change")
	}
	if class != AlertSilent {
		t.Errorf("Expected silent class, got %v", class)
	}
}
