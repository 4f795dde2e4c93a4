package normalize

import (
	"fmt"

	errs "github.com/baohengtao/redbook/pkg/errors"
	"github.com/baohengtao/redbook/pkg/models"
	"github.com/baohengtao/redbook/pkg/rednote"
)

// ParseUser normalizes the userPageData block of a profile page into a
// User. The payload groups its fields into basicInfo, extraInfo,
// interactions and tags; the groups are flattened into one record with
// collision checks so a regrouping upstream cannot shadow a field.
func ParseUser(pageData map[string]interface{}, userID string) (*models.User, error) {
	url := rednote.ProfileURL(userID)

	merged := make(map[string]interface{})

	basic := popMap(pageData, "basicInfo")
	if basic == nil {
		return nil, &errs.SchemaDriftError{URL: url, Key: "basicInfo", Detail: "missing profile group"}
	}
	if err := MergeDisjoint(merged, basic, url); err != nil {
		return nil, err
	}

	if extra := popMap(pageData, "extraInfo"); extra != nil {
		if err := MergeDisjoint(merged, extra, url); err != nil {
			return nil, err
		}
	}

	for _, item := range popList(pageData, "interactions") {
		entry, ok := item.(map[string]interface{})
		if !ok {
			return nil, &errs.SchemaDriftError{URL: url, Key: "interactions", Detail: "entry is not an object"}
		}
		kind, _ := entry["type"].(string)
		if kind == "" {
			return nil, &errs.SchemaDriftError{URL: url, Key: "interactions", Detail: "entry has no type"}
		}
		if err := MergeDisjoint(merged, map[string]interface{}{kind: entry["count"]}, url); err != nil {
			return nil, err
		}
	}

	var tagNames []string
	for _, item := range popList(pageData, "tags") {
		entry, ok := item.(map[string]interface{})
		if !ok {
			return nil, &errs.SchemaDriftError{URL: url, Key: "tags", Detail: "entry is not an object"}
		}
		if name, _ := entry["name"].(string); name != "" {
			tagNames = append(tagNames, name)
		} else if kind, _ := entry["tagType"].(string); kind != "" {
			tagNames = append(tagNames, kind)
		}
	}

	user := &models.User{
		ID:       userID,
		Homepage: url,
	}

	user.Username = popString(merged, "nickname")
	if user.Username == "" {
		return nil, &errs.SchemaDriftError{URL: url, Key: "nickname", Detail: "profile has no nickname"}
	}
	user.RedID = popString(merged, "redId")
	user.IPLocation = popString(merged, "ipLocation")
	user.Description = popString(merged, "desc")

	// Both avatar renditions point at the same image behind different
	// signing queries; a disagreement means the field semantics changed.
	large := stripQuery(popString(merged, "imageb"))
	small := stripQuery(popString(merged, "images"))
	if large != "" && small != "" && large != small {
		return nil, &errs.SchemaDriftError{
			URL:    url,
			Key:    "imageb",
			Detail: fmt.Sprintf("avatar renditions disagree: %s vs %s", large, small),
		}
	}
	user.Avatar = large
	if user.Avatar == "" {
		user.Avatar = small
	}

	switch fstatus := popString(merged, "fstatus"); fstatus {
	case "follows", "both":
		user.Followed = true
	case "none", "fans":
		user.Followed = false
	case "":
		return nil, &errs.SchemaDriftError{URL: url, Key: "fstatus", Detail: "missing follow status"}
	default:
		return nil, &errs.SchemaDriftError{URL: url, Key: "fstatus", Detail: fmt.Sprintf("unknown follow status %q", fstatus)}
	}

	var err error
	if user.Follows, err = popCount(merged, "follows", url); err != nil {
		return nil, err
	}
	if user.Fans, err = popCount(merged, "fans", url); err != nil {
		return nil, err
	}
	if user.Interaction, err = popCount(merged, "interaction", url); err != nil {
		return nil, err
	}

	if len(tagNames) > 0 {
		merged["tags"] = tagNames
	}
	user.Extra = compact(merged)

	return user, nil
}
