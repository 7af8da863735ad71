package metadata

import (
	"fmt"
	"io"
	"os"

	"github.com/biogo/biogo/alphabet"
	"github.com/biogo/biogo/io/seqio"
	"github.com/biogo/biogo/io/seqio/fasta"
	"github.com/biogo/biogo/seq/linear"
)

// fastaWidth is the line width of written FASTA.
const fastaWidth = 60

// ReadFASTA parses every record of a FASTA stream.
func ReadFASTA(r io.Reader) ([]Sequence, error) {
	template := linear.NewSeq("", nil, alphabet.DNAredundant)
	sc := seqio.NewScanner(fasta.NewReader(r, template))

	var seqs []Sequence
	for sc.Next() {
		s, ok := sc.Seq().(*linear.Seq)
		if !ok {
			return nil, fmt.Errorf("unexpected sequence type %T", sc.Seq())
		}
		seqs = append(seqs, Sequence{
			ID:   s.ID,
			Desc: s.Desc,
			Seq:  lettersToString(s.Seq),
		})
	}
	if err := sc.Error(); err != nil {
		return nil, err
	}
	return seqs, nil
}

// ReadFASTAFile parses a FASTA file.
func ReadFASTAFile(path string) ([]Sequence, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	seqs, err := ReadFASTA(f)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return seqs, nil
}

// WriteFASTA writes the sequences of records, headed by their names only.
func WriteFASTA(w io.Writer, records []Record) error {
	fw := fasta.NewWriter(w, fastaWidth)
	for _, r := range records {
		s := linear.NewSeq(r.Name, alphabet.BytesToLetters([]byte(r.Seq)), alphabet.DNAredundant)
		if _, err := fw.Write(s); err != nil {
			return fmt.Errorf("writing %s: %w", r.Name, err)
		}
	}
	return nil
}

// WriteFASTAFile writes records to a new FASTA file at path.
func WriteFASTAFile(path string, records []Record) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := WriteFASTA(f, records); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// WriteSequencesFile writes raw sequences, keeping their descriptions.
func WriteSequencesFile(path string, seqs []Sequence) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	fw := fasta.NewWriter(f, fastaWidth)
	for _, s := range seqs {
		ls := linear.NewSeq(s.ID, alphabet.BytesToLetters([]byte(s.Seq)), alphabet.DNAredundant)
		ls.Desc = s.Desc
		if _, err := fw.Write(ls); err != nil {
			f.Close()
			return err
		}
	}
	return f.Close()
}

func lettersToString(ls alphabet.Letters) string {
	b := make([]byte, len(ls))
	for i, l := range ls {
		b[i] = byte(l)
	}
	return string(b)
}
