package consensus

import (
	"sort"

	"github.com/grailbio/base/log"
	"github.com/grailbio/bio/encoding/bamprovider"
	"github.com/grailbio/hts/sam"
)

// family is a set of reads sharing one familyKey. Reads stay in
// iterator (coordinate) order, which fixes the vote tie-break.
type family struct {
	key   familyKey
	reads []*sam.Record
}

func (f *family) size() int { return len(f.reads) }

// collectFamilies drains one segment's iterator and groups its usable
// reads into families. Unmapped, secondary, and supplementary
// records, and records without a parseable UMI, are not groupable;
// they are handed to badRead and counted. Families come back in
// deterministic order: ascending start, end, strand, UMI pair.
func collectFamilies(iter bamprovider.Iterator, metrics *Metrics, badRead func(*sam.Record)) ([]family, error) {
	index := make(map[familyKey]int)
	var families []family
	for iter.Scan() {
		record := iter.Record()
		metrics.TotalReads++
		if record.Flags&(sam.Unmapped|sam.Secondary|sam.Supplementary) != 0 {
			metrics.BadReads++
			badRead(record)
			continue
		}
		key, ok := keyFromRecord(record)
		if !ok {
			log.Debug.Printf("no UMI in read name %q", record.Name)
			metrics.BadReads++
			badRead(record)
			continue
		}
		i, ok := index[key]
		if !ok {
			i = len(families)
			index[key] = i
			families = append(families, family{key: key})
		}
		families[i].reads = append(families[i].reads, record)
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	sort.Slice(families, func(i, j int) bool {
		return families[i].key.less(families[j].key)
	})
	return families, nil
}
