package models

import "strings"

// RelationshipLabel is a typed edge label from a closed vocabulary.
type RelationshipLabel string

const (
	LabelWorksAt          RelationshipLabel = "WORKS_AT"
	LabelWorkedAt         RelationshipLabel = "WORKED_AT"
	LabelFounded          RelationshipLabel = "FOUNDED"
	LabelLeads            RelationshipLabel = "LEADS"
	LabelMemberOf         RelationshipLabel = "MEMBER_OF"
	LabelPartOf           RelationshipLabel = "PART_OF"
	LabelSubsidiaryOf     RelationshipLabel = "SUBSIDIARY_OF"
	LabelOwns             RelationshipLabel = "OWNS"
	LabelAcquired         RelationshipLabel = "ACQUIRED"
	LabelInvestedIn       RelationshipLabel = "INVESTED_IN"
	LabelLocatedIn        RelationshipLabel = "LOCATED_IN"
	LabelHeadquarteredIn  RelationshipLabel = "HEADQUARTERED_IN"
	LabelBornIn           RelationshipLabel = "BORN_IN"
	LabelLivesIn          RelationshipLabel = "LIVES_IN"
	LabelCollaboratesWith RelationshipLabel = "COLLABORATES_WITH"
	LabelPartnersWith     RelationshipLabel = "PARTNERS_WITH"
	LabelCompetesWith     RelationshipLabel = "COMPETES_WITH"
	LabelDevelops         RelationshipLabel = "DEVELOPS"
	LabelProduces         RelationshipLabel = "PRODUCES"
	LabelUses             RelationshipLabel = "USES"
	LabelIntegratesWith   RelationshipLabel = "INTEGRATES_WITH"
	LabelDependsOn        RelationshipLabel = "DEPENDS_ON"
	LabelAttended         RelationshipLabel = "ATTENDED"
	LabelParticipatedIn   RelationshipLabel = "PARTICIPATED_IN"
	LabelOrganized        RelationshipLabel = "ORGANIZED"
	LabelAuthored         RelationshipLabel = "AUTHORED"
	LabelStudiedAt        RelationshipLabel = "STUDIED_AT"
	LabelRelatedTo        RelationshipLabel = "RELATED_TO"
)

// RelationshipLabels is the full vocabulary in prompt order.
var RelationshipLabels = []RelationshipLabel{
	LabelWorksAt, LabelWorkedAt, LabelFounded, LabelLeads, LabelMemberOf,
	LabelPartOf, LabelSubsidiaryOf, LabelOwns, LabelAcquired, LabelInvestedIn,
	LabelLocatedIn, LabelHeadquarteredIn, LabelBornIn, LabelLivesIn,
	LabelCollaboratesWith, LabelPartnersWith, LabelCompetesWith,
	LabelDevelops, LabelProduces, LabelUses, LabelIntegratesWith, LabelDependsOn,
	LabelAttended, LabelParticipatedIn, LabelOrganized, LabelAuthored,
	LabelStudiedAt, LabelRelatedTo,
}

var relationshipLabelSet = func() map[RelationshipLabel]bool {
	set := make(map[RelationshipLabel]bool, len(RelationshipLabels))
	for _, l := range RelationshipLabels {
		set[l] = true
	}
	return set
}()

// ParseRelationshipLabel matches s against the vocabulary, ignoring case and
// surrounding whitespace. Near misses such as "works at" are rejected.
func ParseRelationshipLabel(s string) (RelationshipLabel, bool) {
	label := RelationshipLabel(strings.ToUpper(strings.TrimSpace(s)))
	return label, relationshipLabelSet[label]
}

// Relationship is a directed, typed edge between two entities. It is
// uniquely keyed by (SubjectID, Label, ObjectID).
type Relationship struct {
	SubjectID  string            `json:"subject_id"`
	Label      RelationshipLabel `json:"label"`
	ObjectID   string            `json:"object_id"`
	Confidence float64           `json:"confidence"`
	Provenance string            `json:"provenance,omitempty"`
	SourceURL  string            `json:"source_url,omitempty"`
}
