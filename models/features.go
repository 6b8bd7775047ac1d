package models

// FeatureID identifies one statistic of the closed feature registry.
type FeatureID string

const (
	FeatureKillsPerDeath   FeatureID = "kills_per_death"
	FeatureDamagePerRound  FeatureID = "damage_per_round"
	FeatureHeadshotRate    FeatureID = "headshot_rate"
	FeatureAssistsPerDeath FeatureID = "assists_per_death"
	FeatureParticipation   FeatureID = "participation_effect"
	FeaturePlayerValue     FeatureID = "player_value"
	FeaturePeachRate       FeatureID = "peach_rate"
	FeaturePremierRank     FeatureID = "premier_rank"
)

// Feature describes how a statistic is presented.
type Feature struct {
	ID          FeatureID
	Name        string
	Description string
	Format      string
}

// Features is the registry, in display order.
var Features = []Feature{
	{FeatureDamagePerRound, "Damage per round", "The damage per round, averaged over all matches.", "%.1f"},
	{FeatureAssistsPerDeath, "Assists per death", "The assists/death ratio, averaged over all matches.", "%.2f"},
	{FeatureHeadshotRate, "Headshot rate", "Headshots per kill.", "%.2f"},
	{FeatureKillsPerDeath, "Kills per death", "The kills/death ratio, averaged over all matches.", "%.2f"},
	{FeatureParticipation, "Participation effect", "The expected effect of taking part in a squad match on winning it, mapped to [0, 1].", "%.2f"},
	{FeaturePlayerValue, "Player value", "Geometric mean of kills per death ratio and the average damage per round (divided by 100).", "%.2f"},
	{FeaturePeachRate, "Peach rate", "The empirical probability of qualifying for the Peach Price.", "%.2f"},
	{FeaturePremierRank, "Premier Rank", "The latest Premier rank of the player (x1000).", "%.1f"},
}

func LookupFeature(id FeatureID) (Feature, bool) {
	for _, f := range Features {
		if f.ID == id {
			return f, true
		}
	}
	return Feature{}, false
}

// FeatureValues maps a feature to its value; a nil value means "not available".
type FeatureValues map[FeatureID]*float64

func (v FeatureValues) Get(id FeatureID) (float64, bool) {
	if v == nil {
		return 0, false
	}
	p, ok := v[id]
	if !ok || p == nil {
		return 0, false
	}
	return *p, true
}

func (v FeatureValues) Set(id FeatureID, value *float64) {
	v[id] = value
}

// Delta returns the per-feature difference v - prev; features missing on either side are nil.
func (v FeatureValues) Delta(prev FeatureValues) FeatureValues {
	out := make(FeatureValues, len(Features))
	for _, f := range Features {
		cur, ok1 := v.Get(f.ID)
		old, ok2 := prev.Get(f.ID)
		if ok1 && ok2 {
			d := cur - old
			out[f.ID] = &d
		} else {
			out[f.ID] = nil
		}
	}
	return out
}
