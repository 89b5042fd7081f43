package extract

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/brettboylen/reddit-harvester/models"
	"github.com/brettboylen/reddit-harvester/profile"
	"github.com/brettboylen/reddit-harvester/resolve"
)

var approvalPattern = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*%`)

type detailStrategies struct {
	body       selectionStrategies
	tags       []resolve.ListStrategy[*goquery.Selection]
	score      selectionStrategies
	replyCount selectionStrategies
	approval   selectionStrategies
	timestamp  selectionStrategies

	replyContainers []string
	replyAuthor     selectionStrategies
	replyBody       selectionStrategies
	replyScore      selectionStrategies
	replyTimestamp  selectionStrategies
}

func newDetailStrategies(d profile.Detail) detailStrategies {
	return detailStrategies{
		body:            resolve.Selections(d.Body),
		tags:            resolve.SelectionLists(d.Tags),
		score:           resolve.Selections(d.Score),
		replyCount:      resolve.Selections(d.ReplyCount),
		approval:        resolve.Selections(d.Approval),
		timestamp:       resolve.Selections(d.Timestamp),
		replyContainers: d.Replies.Containers,
		replyAuthor:     resolve.Selections(d.Replies.Author),
		replyBody:       resolve.Selections(d.Replies.Body),
		replyScore:      resolve.Selections(d.Replies.Score),
		replyTimestamp:  resolve.Selections(d.Replies.Timestamp),
	}
}

// ExtractDetail reads an item's own page. Missing fields stay at their zero value;
// the caller decides whether the fetch as a whole succeeded.
func (e *Extractor) ExtractDetail(doc *goquery.Document) models.DetailRecord {
	root := doc.Selection
	d := e.detail

	body, _ := resolve.Resolve(root, d.body)
	timestamp, _ := resolve.Resolve(root, d.timestamp)

	record := models.DetailRecord{
		BodyText:       truncateRunes(body, e.BodyCap),
		Tags:           resolve.ResolveList(root, d.tags),
		Replies:        e.extractReplies(root),
		TimestampRaw:   timestamp,
		FetchSucceeded: true,
	}
	record.ScoreOverride, _ = resolve.ResolveNumber(root, d.score)
	record.ReplyCountOverride, _ = resolve.ResolveNumber(root, d.replyCount)
	if raw, ok := resolve.Resolve(root, d.approval); ok {
		record.ApprovalRatio = ParseApproval(raw)
	}
	return record
}

// ParseApproval reads a ratio such as "95% upvoted" or "0.95". Values outside [0,1]
// are rejected.
func ParseApproval(raw string) *float64 {
	var ratio float64
	if m := approvalPattern.FindStringSubmatch(raw); m != nil {
		v, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			return nil
		}
		ratio = v / 100
	} else {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil
		}
		ratio = v
	}
	if ratio < 0 || ratio > 1 {
		return nil
	}
	return &ratio
}

func (e *Extractor) extractReplies(root *goquery.Selection) []models.Reply {
	var selector string
	var all *goquery.Selection
	for _, candidate := range e.detail.replyContainers {
		if found := root.Find(candidate); found.Length() > 0 {
			selector, all = candidate, found
			break
		}
	}
	if all == nil {
		return []models.Reply{}
	}

	top := all.FilterFunction(func(_ int, s *goquery.Selection) bool {
		return s.ParentsFiltered(selector).Length() == 0
	})
	budget := e.MaxReplies
	return e.replyLevel(top, selector, 0, &budget)
}

// replyLevel reads one level of the reply tree depth first, spending budget per reply
func (e *Extractor) replyLevel(level *goquery.Selection, selector string, depth int, budget *int) []models.Reply {
	replies := make([]models.Reply, 0, level.Length())
	level.EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if *budget <= 0 {
			return false
		}
		*budget--

		reply := e.readReply(s, selector)
		if depth+1 < e.MaxReplyDepth {
			children := s.Find(selector).FilterFunction(func(_ int, c *goquery.Selection) bool {
				return c.ParentsFiltered(selector).First().IsSelection(s)
			})
			reply.Children = e.replyLevel(children, selector, depth+1, budget)
		}
		replies = append(replies, reply)
		return true
	})
	return replies
}

// readReply resolves a reply's own fields with its nested replies cut away
func (e *Extractor) readReply(s *goquery.Selection, selector string) models.Reply {
	own := s.Clone()
	own.Find(selector).Remove()
	// the clone is detached, so ancestor-qualified selectors no longer match inside it
	if inner := lastCompound(selector); inner != selector {
		own.Find(inner).Remove()
	}

	author, _ := resolve.Resolve(own, e.detail.replyAuthor)
	body, _ := resolve.Resolve(own, e.detail.replyBody)
	score, _ := resolve.ResolveNumber(own, e.detail.replyScore)
	timestamp, _ := resolve.Resolve(own, e.detail.replyTimestamp)

	return models.Reply{
		Author:       author,
		BodyText:     truncateRunes(body, e.BodyCap),
		Score:        score,
		TimestampRaw: timestamp,
		Children:     []models.Reply{},
	}
}

// lastCompound returns the rightmost compound of a simple descendant selector, e.g.
// "div.thing.comment" for "div.commentarea > div.thing.comment"
func lastCompound(selector string) string {
	if strings.Contains(selector, ",") {
		return selector
	}
	fields := strings.Fields(selector)
	if len(fields) == 0 {
		return selector
	}
	last := strings.TrimLeft(fields[len(fields)-1], ">+~")
	if last == "" {
		return selector
	}
	return last
}

func truncateRunes(s string, limit int) string {
	if limit <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
