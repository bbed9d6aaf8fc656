package transaction

// ToInputs projects outputs of the transaction in to the inputs spendable by a successor TRANSFER.
// Use it only for transactions committed by the ledger.
func ToInputs(t Transaction) []Input {
	inputs := make([]Input, 0, len(t.Body.Conditions))
	for i, c := range t.Body.Conditions {
		inputs = append(inputs, Input{
			TransactionID: t.ID,
			OutputIndex:   i,
			OwnersBefore:  append([]string(nil), c.OwnersAfter...),
		})
	}
	return inputs
}

// Link returns the Link pointing at the output i of the transaction.
func (t Transaction) Link(i int) (Link, error) {
	if _, err := t.Output(i); err != nil {
		return Link{}, err
	}
	return Link{TransactionID: t.ID, OutputIndex: i}, nil
}
