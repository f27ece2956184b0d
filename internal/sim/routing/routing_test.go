package routing

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"trainyard.dev/internal/sim/model"
)

type seqRand struct {
	floats []float64
	ints   []int
	fi, ii int
}

func (r *seqRand) Float64() float64 {
	if len(r.floats) == 0 {
		return 0
	}
	v := r.floats[r.fi%len(r.floats)]
	r.fi++
	return v
}

func (r *seqRand) Intn(n int) int {
	if len(r.ints) == 0 {
		return 0
	}
	v := r.ints[r.ii%len(r.ints)]
	r.ii++
	return v % n
}

func sid(v model.StateID) *model.StateID { return &v }

func twoStateInfo() Info {
	return Info{
		Configured:   true,
		DefaultState: 0,
		States: map[model.StateID]State{
			0: {
				AfterClick: SwitchTo(1),
				Forward: map[model.TrackID]Entry{
					1: {Outcomes: []WeightedOutcome{{Weight: 1, Outcome: ToTrack(2, model.Forward)}}, After: SwitchTo(1)},
				},
			},
			1: {
				AfterClick: SwitchTo(0),
				Forward: map[model.TrackID]Entry{
					1: {Outcomes: []WeightedOutcome{{Weight: 1, Outcome: ToTrack(3, model.Backward)}}, After: Nothing()},
				},
			},
		},
	}
}

func TestCheckReasons(t *testing.T) {
	nan := math.NaN()
	cases := []struct {
		name   string
		mutate func(*Info)
		reason string
	}{
		{"missing default", func(i *Info) { i.DefaultState = 9 }, ReasonMissingDefault},
		{"unknown switch", func(i *Info) {
			st := i.States[0]
			st.AfterClick = SwitchTo(7)
			i.States[0] = st
		}, ReasonUnknownState},
		{"unknown weighted target", func(i *Info) {
			st := i.States[1]
			st.AfterClick = AfterEffect{Kind: AfterWeighted, Choices: []WeightedSwitch{{Weight: 1, State: sid(5)}}}
			i.States[1] = st
		}, ReasonUnknownState},
		{"empty outcomes", func(i *Info) {
			i.States[0].Forward[1] = Entry{After: Nothing()}
		}, ReasonEmptyDistribution},
		{"negative weight", func(i *Info) {
			i.States[0].Forward[1] = Entry{Outcomes: []WeightedOutcome{{Weight: -1, Outcome: Derail()}}}
		}, ReasonInvalidWeight},
		{"nan weight", func(i *Info) {
			i.States[0].Forward[1] = Entry{Outcomes: []WeightedOutcome{{Weight: nan, Outcome: Derail()}}}
		}, ReasonInvalidWeight},
		{"zero total", func(i *Info) {
			i.States[0].Forward[1] = Entry{Outcomes: []WeightedOutcome{{Weight: 0, Outcome: Derail()}, {Weight: 0, Outcome: BounceBack()}}}
		}, ReasonZeroTotal},
		{"bad outcome kind", func(i *Info) {
			i.States[0].Forward[1] = Entry{Outcomes: []WeightedOutcome{{Weight: 1, Outcome: Outcome{Kind: "teleport"}}}}
		}, ReasonInvalidOutcome},
		{"bad after kind", func(i *Info) {
			st := i.States[0]
			st.AfterClick = AfterEffect{Kind: "maybe"}
			i.States[0] = st
		}, ReasonInvalidAfter},
		{"empty weighted after", func(i *Info) {
			st := i.States[0]
			st.AfterClick = AfterEffect{Kind: AfterWeighted}
			i.States[0] = st
		}, ReasonEmptyDistribution},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			info := twoStateInfo().Clone()
			tc.mutate(&info)
			err := info.Check()
			var ce *CheckError
			if !errors.As(err, &ce) {
				t.Fatalf("expected CheckError, got %v", err)
			}
			if ce.Reason != tc.reason {
				t.Fatalf("reason: got %q want %q (%v)", ce.Reason, tc.reason, err)
			}
			if _, err := Build(info); err == nil {
				t.Fatalf("Build accepted an info that fails Check")
			}
		})
	}
}

func TestCheckAcceptsValid(t *testing.T) {
	if err := twoStateInfo().Check(); err != nil {
		t.Fatalf("valid info rejected: %v", err)
	}
	if err := DefaultInfo().Check(); err != nil {
		t.Fatalf("default info rejected: %v", err)
	}
	info := twoStateInfo()
	st := info.States[0]
	st.AfterClick = AfterEffect{Kind: AfterWeighted, Choices: []WeightedSwitch{{Weight: 1}, {Weight: 0, State: sid(1)}}}
	info.States[0] = st
	if err := info.Check(); err != nil {
		t.Fatalf("weighted after with nil state rejected: %v", err)
	}
}

func TestUnconfiguredAlwaysBouncesBack(t *testing.T) {
	r, err := Build(DefaultInfo())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 10; i++ {
		out, ok := r.Route(rng, model.TrackID(i), model.Direction(i%2))
		if !ok || out.Kind != OutcomeBounceBack {
			t.Fatalf("route %d: got %+v ok=%v", i, out, ok)
		}
		if r.Click(rng) {
			t.Fatalf("click changed state of unconfigured router")
		}
	}
	if r.State() != 0 {
		t.Fatalf("state moved: %d", r.State())
	}
}

func TestRouterSwitchesStates(t *testing.T) {
	r, err := Build(twoStateInfo())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	rng := &seqRand{}
	out, ok := r.Route(rng, 1, model.Forward)
	if !ok || out != ToTrack(2, model.Forward) {
		t.Fatalf("first route: %+v ok=%v", out, ok)
	}
	if r.State() != 1 {
		t.Fatalf("after-effect not applied, state=%d", r.State())
	}
	out, _ = r.Route(rng, 1, model.Forward)
	if out != ToTrack(3, model.Backward) {
		t.Fatalf("second route: %+v", out)
	}
	if !r.Click(rng) || r.State() != 0 {
		t.Fatalf("click should switch back to 0, state=%d", r.State())
	}
	if _, ok := r.Route(rng, 1, model.Backward); ok {
		t.Fatalf("missing backward entry should not be routable")
	}
}

func TestDecideFallsBackToDerailOnMissingEntry(t *testing.T) {
	r, err := Build(twoStateInfo())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	d := Decide(Junction{Policy: model.PolicyConfigurable, Router: r}, 42, model.Forward, &seqRand{})
	if !d.Fallback || d.Outcome.Kind != OutcomeDerail {
		t.Fatalf("got %+v", d)
	}
}

func TestSamplerNeverDrawsZeroWeight(t *testing.T) {
	s, err := NewSampler([]float64{0, 1, 0, 2, 0}, []string{"a", "b", "c", "d", "e"})
	if err != nil {
		t.Fatalf("NewSampler: %v", err)
	}
	rng := &seqRand{floats: []float64{0, 0.1, 1.0 / 3, 0.5, 0.9999, 1}}
	for i := 0; i < 12; i++ {
		switch v := s.Sample(rng); v {
		case "b", "d":
		default:
			t.Fatalf("drew zero-weight value %q", v)
		}
	}
	if _, err := NewSampler([]float64{0, 0}, []int{1, 2}); err == nil {
		t.Fatalf("zero-sum sampler accepted")
	}
}

func TestFixedPolicies(t *testing.T) {
	single := map[model.TrackID]model.DirectionSet{4: model.SetForward}
	rng := &seqRand{ints: []int{0, 1}}
	for _, p := range []model.Policy{model.PolicyRandom, model.PolicyRoundRobin, model.PolicyReverse} {
		d := Decide(Junction{Policy: p, Connections: single}, 4, model.Forward, rng)
		if d.Outcome.Kind != OutcomeBounceBack {
			t.Fatalf("%s with single track: %+v", p, d.Outcome)
		}
	}
	if d := Decide(Junction{Policy: model.PolicyDerail, Connections: single}, 4, model.Forward, rng); d.Outcome.Kind != OutcomeDerail || d.Fallback {
		t.Fatalf("derail: %+v", d)
	}

	conns := map[model.TrackID]model.DirectionSet{
		1: model.SetForward,
		3: model.SetBackward,
		7: model.SetBoth,
	}
	rr := Junction{Policy: model.PolicyRoundRobin, Connections: conns}
	if got := Decide(rr, 1, model.Forward, rng).Outcome; got != ToTrack(3, model.Forward) {
		t.Fatalf("roundrobin after 1: %+v", got)
	}
	if got := Decide(rr, 3, model.Backward, rng).Outcome; got != ToTrack(7, model.Forward) {
		t.Fatalf("roundrobin after 3: %+v", got)
	}
	if got := Decide(rr, 7, model.Forward, rng).Outcome; got != ToTrack(1, model.Backward) {
		t.Fatalf("roundrobin wrap: %+v", got)
	}

	random := Junction{Policy: model.PolicyRandom, Connections: conns}
	for i := 0; i < 20; i++ {
		got := Decide(random, 7, model.Forward, rand.New(rand.NewSource(int64(i)))).Outcome
		switch got {
		case ToTrack(1, model.Backward), ToTrack(3, model.Forward):
		default:
			t.Fatalf("random picked %+v", got)
		}
	}
}

func TestInfoCloneIsDeep(t *testing.T) {
	info := twoStateInfo()
	st := info.States[0]
	st.AfterClick = AfterEffect{Kind: AfterWeighted, Choices: []WeightedSwitch{{Weight: 1, State: sid(1)}}}
	info.States[0] = st
	c := info.Clone()
	*c.States[0].AfterClick.Choices[0].State = 0
	c.States[0].Forward[1].Outcomes[0] = WeightedOutcome{Weight: 5, Outcome: Derail()}
	if *info.States[0].AfterClick.Choices[0].State != 1 {
		t.Fatalf("clone shares after-click choices")
	}
	if info.States[0].Forward[1].Outcomes[0].Outcome.Kind != OutcomeTrack {
		t.Fatalf("clone shares outcomes")
	}
	if got := info.TrackTargets(); len(got) != 2 || got[0] != 2 || got[1] != 3 {
		t.Fatalf("TrackTargets: %v", got)
	}
}

func TestUnconfiguredIgnoresPopulatedTables(t *testing.T) {
	derail := Entry{Outcomes: []WeightedOutcome{{Weight: 1, Outcome: Derail()}}, After: SwitchTo(1)}
	onward := Entry{Outcomes: []WeightedOutcome{{Weight: 1, Outcome: ToTrack(2, model.Forward)}}, After: SwitchTo(1)}
	info := Info{
		Configured:   false,
		DefaultState: 0,
		States: map[model.StateID]State{
			0: {
				AfterClick: SwitchTo(1),
				Forward:    map[model.TrackID]Entry{1: derail, 2: onward},
				Backward:   map[model.TrackID]Entry{1: onward, 2: derail},
			},
			1: {AfterClick: SwitchTo(0)},
		},
	}
	r, err := Build(info)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	j := Junction{
		Policy:      model.PolicyConfigurable,
		Connections: map[model.TrackID]model.DirectionSet{},
		Router:      r,
	}
	rng := rand.New(rand.NewSource(3))
	for _, tid := range []model.TrackID{1, 2, 7} {
		for _, dir := range []model.Direction{model.Forward, model.Backward} {
			d := Decide(j, tid, dir, rng)
			if d.Outcome.Kind != OutcomeBounceBack || d.Fallback {
				t.Fatalf("track %d dir %s: got %+v", tid, dir, d)
			}
			if r.Click(rng) {
				t.Fatalf("click switched an unconfigured router")
			}
			if r.State() != 0 {
				t.Fatalf("state moved to %d", r.State())
			}
		}
	}
}
